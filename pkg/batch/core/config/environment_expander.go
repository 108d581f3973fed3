package config

import (
	"os"
	"strings"
)

// EnvironmentExpander substitutes environment placeholders in raw configuration text.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates an expander over os.LookupEnv.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// dollarEscape stands in for "$$" while the text is expanded.
const dollarEscape = "\x00dollar\x00"

// Expand replaces ${VAR} and $VAR with the value of VAR, or "" when unset.
// "$$" yields a literal "$", so client secrets may carry dollar signs.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	text := strings.ReplaceAll(string(input), "$$", dollarEscape)
	text = os.Expand(text, func(name string) string {
		v, _ := lookup(name)
		return v
	})
	return []byte(strings.ReplaceAll(text, dollarEscape, "$")), nil
}
