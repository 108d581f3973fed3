// Package config provides core configuration structures and utilities for the batch engine.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Cirrus.System.Logging
}

// NewWorkflowConfigProvider extracts the polling settings of remote waits.
func NewWorkflowConfigProvider(cfg *Config) *WorkflowConfig {
	return &cfg.Cirrus.Workflow
}

// NewBatchConfigProvider extracts the settings of the batch run.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Cirrus.Batch
}

// Module provides configuration-related components to Fx.
// It includes the *Config provider, its sections and the EnvironmentExpander.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewWorkflowConfigProvider),
	fx.Provide(NewBatchConfigProvider),
	// Provides OsEnvironmentExpander as the EnvironmentExpander interface.
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
)

// AsOverride annotates f as a member of the configOverrides group.
func AsOverride(f Override) fx.Option {
	return fx.Supply(fx.Annotated{Group: "configOverrides", Target: f})
}
