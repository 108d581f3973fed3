package workflow

import (
	"context"
	"strings"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/parameter"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// AnalysisRunRunner runs the actions of analysis runs. RUN executes the
// script of the analysis run and waits for it.
type AnalysisRunRunner struct {
	base
	params *parameter.Resolver
}

var _ Runnable = (*AnalysisRunRunner)(nil)

// NewAnalysisRunRunner creates the runner of the analysis runs of batch.
func NewAnalysisRunRunner(deps Deps, gw *port.Gateway, batch *model.BatchConfig, params *parameter.Resolver) *AnalysisRunRunner {
	return &AnalysisRunRunner{
		base:   base{deps: deps, gw: gw, batch: batch, kind: model.ObjectTypeAnalysisRun},
		params: params,
	}
}

// Execute runs the action of item.
func (r *AnalysisRunRunner) Execute(ctx context.Context, item *model.WorkItemConfig) error {
	if handled, err := r.executeCommon(ctx, item); handled {
		return err
	}
	switch item.Action {
	case model.ActionDelete:
		return r.deleteItem(ctx, item)
	case model.ActionCreate:
		if err := r.markRunning(ctx, item); err != nil {
			return err
		}
		_, err := r.create(ctx, item, false)
		return err
	case model.ActionUpdate:
		if err := r.markRunning(ctx, item); err != nil {
			return err
		}
		_, err := r.update(ctx, item, "", false)
		return err
	case model.ActionRun:
		if err := r.markRunning(ctx, item); err != nil {
			return err
		}
		return r.run(ctx, item)
	}
	return r.unsupported(item)
}

// create posts a new analysis run. forRun links the job owner and requires
// the script parameters.
func (r *AnalysisRunRunner) create(ctx context.Context, item *model.WorkItemConfig, forRun bool) (model.CirrusObject, error) {
	obj := r.draft(item, map[string]interface{}{model.FieldStatusCd: statusCreated})
	if err := r.payload(ctx, item, obj, true, forRun); err != nil {
		return nil, err
	}
	repo, err := r.repository(model.RestPathAnalysisRuns)
	if err != nil {
		return nil, err
	}
	created, _, err := repo.Create(ctx, obj)
	if err != nil {
		return nil, err
	}
	logger.Infof("Created %s (key = '%s').", item.Label(), created.Key())
	return created, nil
}

func (r *AnalysisRunRunner) update(ctx context.Context, item *model.WorkItemConfig, key string, forRun bool) (model.CirrusObject, error) {
	if key == "" {
		existing, err := r.findItem(ctx, item, model.FieldKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, &exception.NotFoundError{
				ObjectType: string(model.ObjectTypeAnalysisRun), ID: item.ID, SSC: item.SourceSystemCd(),
				Detail: "Unable to update analysis run.",
			}
		}
		key = existing.Key()
	}
	repo, err := r.repository(model.RestPathAnalysisRuns)
	if err != nil {
		return nil, err
	}
	run, etag, err := repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &exception.NotFoundError{ObjectType: string(model.ObjectTypeAnalysisRun), Key: key, Detail: "Unable to update analysis run."}
	}
	if err := r.payload(ctx, item, run, false, forRun); err != nil {
		return nil, err
	}
	updated, _, err := repo.Update(ctx, run, etag, false)
	if err != nil {
		return nil, err
	}
	logger.Infof("Updated %s (key = '%s').", item.Label(), key)
	return updated, nil
}

func (r *AnalysisRunRunner) payload(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject, useDefaults, forRun bool) error {
	reg, err := r.gw.Registrations.Registration(ctx, model.RestPathAnalysisRuns)
	if err != nil {
		return err
	}
	r.setFields(obj, item, reg, model.FieldScriptParameters, model.FieldScriptParametersUI)
	if err := r.saveParameters(ctx, item, obj, forRun); err != nil {
		return err
	}
	classification, _, classified, err := r.classify(ctx, item, reg)
	if err != nil {
		return err
	}
	if classified {
		obj.SetClassification(classification)
	}
	if err := r.links(ctx, item, obj, useDefaults, forRun); err != nil {
		return err
	}
	if err := r.validate(ctx, item, obj); err != nil {
		return err
	}
	finalize(obj)
	return nil
}

// saveParameters stores the machine and UI script parameters on obj. They
// come from the item's override or are resolved against the linked script.
func (r *AnalysisRunRunner) saveParameters(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject, required bool) error {
	if machine, ui, ok := item.ScriptParameterOverride(); ok {
		if machine == nil || ui == nil {
			return exception.NewValidationError(item.Label(), "both %s and %s are required", model.FieldScriptParameters, model.FieldScriptParametersUI)
		}
		obj.SetField(model.FieldScriptParameters, serialization.DeepCopyMap(machine))
		obj.SetField(model.FieldScriptParametersUI, serialization.DeepCopyMap(ui))
		return nil
	}
	id, ok := item.Link(model.LinkRoleScript)
	if !ok {
		if required {
			return exception.NewValidationError(item.Label(), "a script link is required to run an analysis run")
		}
		return nil
	}
	script, err := r.require(ctx, model.RestPathScripts, id)
	if err != nil {
		return err
	}
	machine, ui, err := r.params.ResolveGroup(ctx, r.batch.AnalysisRunScriptParameters(item.Key()), script)
	if err != nil {
		return err
	}
	obj.SetField(model.FieldScriptParameters, serialization.DeepCopyMap(machine))
	obj.SetField(model.FieldScriptParametersUI, serialization.DeepCopyMap(ui))
	return nil
}

func (r *AnalysisRunRunner) links(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject, useDefaults, forRun bool) error {
	library, err := r.linkTarget(ctx, item, model.LinkRoleCodeLibrary, model.RestPathCodeLibraries, useDefaults, r.gw.Solution.CodeLibraryDefault)
	if err != nil {
		return err
	}
	if library != nil {
		if err := r.linkLibrary(ctx, obj, library, model.LinkTypeAnalysisRunCodeLibrary, model.LinkTypeAnalysisRunCodeLibraryDeps); err != nil {
			return err
		}
	}
	set, err := r.linkTarget(ctx, item, model.LinkRoleConfigurationSet, model.RestPathConfigurationSets, useDefaults, r.gw.Solution.ConfigurationSetDefault)
	if err != nil {
		return err
	}
	if set != nil {
		if err := r.putLink(ctx, obj, model.LinkTypeAnalysisRunConfigurationSet, attrToObject, set.Key()); err != nil {
			return err
		}
	}
	if id, ok := item.Link(model.LinkRoleScript); ok {
		script, err := r.require(ctx, model.RestPathScripts, id, model.FieldKey)
		if err != nil {
			return err
		}
		if err := r.putLink(ctx, obj, model.LinkTypeAnalysisRunScript, attrToObject, script.Key()); err != nil {
			return err
		}
	}
	if id, ok := item.Link(model.LinkRoleCycle); ok {
		if err := r.linkCycle(ctx, obj, id); err != nil {
			return err
		}
	}
	if forRun {
		user, err := r.gw.Solution.CurrentUser(ctx)
		if err != nil {
			return err
		}
		if err := r.putLink(ctx, obj, model.LinkTypeAnalysisRunJobOwner, attrOwnerUserID, user.ID); err != nil {
			return err
		}
	}
	return nil
}

// linkCycle links obj to the cycle identified by id, and to the code library
// and configuration set of that cycle.
func (r *AnalysisRunRunner) linkCycle(ctx context.Context, obj model.CirrusObject, id model.Identifier) error {
	cycle, err := r.require(ctx, model.RestPathCycles, id, model.FieldKey)
	if err != nil {
		return err
	}
	if err := r.putLink(ctx, obj, model.LinkTypeAnalysisRunCycle, attrToObject, cycle.Key()); err != nil {
		return err
	}
	libraries, err := r.linkedFrom(ctx, model.RestPathCodeLibraries, model.LinkTypeCycleCodeLibrary, cycle.Key())
	if err != nil {
		return err
	}
	if len(libraries) > 0 {
		if err := r.linkLibrary(ctx, obj, libraries[0], model.LinkTypeAnalysisRunCodeLibrary, model.LinkTypeAnalysisRunCodeLibraryDeps); err != nil {
			return err
		}
	}
	sets, err := r.linkedFrom(ctx, model.RestPathConfigurationSets, model.LinkTypeCycleConfigurationSet, cycle.Key())
	if err != nil {
		return err
	}
	if len(sets) > 0 {
		return r.putLink(ctx, obj, model.LinkTypeAnalysisRunConfigurationSet, attrToObject, sets[0].Key())
	}
	return nil
}

// linkedFrom returns the objects of restPath that the object keyed key links to.
func (r *AnalysisRunRunner) linkedFrom(ctx context.Context, restPath, linkTypeID, key string) ([]model.CirrusObject, error) {
	repo, err := r.repository(restPath)
	if err != nil {
		return nil, err
	}
	return repo.GetByLinkTo(ctx, model.LinkTypeIdentifier(linkTypeID), key, port.LinkSideTo)
}

// validate applies the production rules of the linked cycle.
func (r *AnalysisRunRunner) validate(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject) error {
	cycleKey, err := r.linked(ctx, obj, model.LinkTypeAnalysisRunCycle, attrToObject)
	if err != nil {
		return err
	}
	cycle, err := r.byKey(ctx, model.RestPathCycles, cycleKey)
	if err != nil || cycle == nil {
		return err
	}
	if strings.ToUpper(cycle.FieldString(fieldRunTypeCd)) != statusProd {
		return nil
	}
	subject := item.Label()
	checks := []struct {
		linkTypeID, restPath, what string
	}{
		{model.LinkTypeAnalysisRunScript, model.RestPathScripts, "script"},
		{model.LinkTypeAnalysisRunCodeLibrary, model.RestPathCodeLibraries, "code library"},
		{model.LinkTypeAnalysisRunConfigurationSet, model.RestPathConfigurationSets, "configuration set"},
	}
	for _, c := range checks {
		key, err := r.linked(ctx, obj, c.linkTypeID, attrToObject)
		if err != nil {
			return err
		}
		target, err := r.byKey(ctx, c.restPath, key)
		if err != nil {
			return err
		}
		if err := requireProduction(subject, c.what, target); err != nil {
			return err
		}
	}
	return nil
}

// run upserts the analysis run, executes its script and waits for it.
func (r *AnalysisRunRunner) run(ctx context.Context, item *model.WorkItemConfig) error {
	existing, err := r.findItem(ctx, item, model.FieldKey)
	if err != nil {
		return err
	}
	var run model.CirrusObject
	if existing == nil {
		run, err = r.create(ctx, item, true)
	} else {
		run, err = r.update(ctx, item, existing.Key(), true)
	}
	if err != nil {
		return err
	}
	job, err := r.gw.Scripts.Execute(ctx, port.ScriptRequest{
		ObjectKey:  run.Key(),
		RestPath:   model.RestPathAnalysisRuns,
		Parameters: map[string]interface{}{},
	})
	if err != nil {
		return err
	}
	analysisRunKey := run.Key()
	if job != nil && job.AnalysisRunID != "" {
		analysisRunKey = job.AnalysisRunID
	}
	logger.Infof("Submitted the script of %s (analysis run = '%s').", item.Label(), analysisRunKey)
	status, err := r.gw.Scripts.Wait(ctx, analysisRunKey, port.WaitOptions{
		Sleep:   r.deps.Settings.ScriptWaitSleep,
		Timeout: r.deps.Settings.ScriptWaitTimeout,
		Check:   r.check(item),
	})
	if err != nil {
		return err
	}
	logger.Infof("Script of %s finished with status '%s'.", item.Label(), status)
	return nil
}
