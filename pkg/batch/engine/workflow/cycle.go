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

// CycleRunner runs the actions of cycles. RUN drives the cycle's workflow
// until it stops offering configured tasks.
type CycleRunner struct {
	base
	params  *parameter.Resolver
	retries RetryPolicy
}

var _ Runnable = (*CycleRunner)(nil)

// NewCycleRunner creates the runner of the cycles of batch.
func NewCycleRunner(deps Deps, gw *port.Gateway, batch *model.BatchConfig, params *parameter.Resolver) *CycleRunner {
	return &CycleRunner{
		base:    base{deps: deps, gw: gw, batch: batch, kind: model.ObjectTypeCycle},
		params:  params,
		retries: NewConflictRetryPolicy(),
	}
}

// Execute runs the action of item.
func (r *CycleRunner) Execute(ctx context.Context, item *model.WorkItemConfig) error {
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
		_, err := r.create(ctx, item)
		return err
	case model.ActionUpdate:
		if err := r.markRunning(ctx, item); err != nil {
			return err
		}
		_, err := r.update(ctx, item, "")
		return err
	case model.ActionRun:
		if err := r.markRunning(ctx, item); err != nil {
			return err
		}
		return r.run(ctx, item)
	}
	return r.unsupported(item)
}

func (r *CycleRunner) patcher() (*patcher, error) {
	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return nil, err
	}
	return &patcher{repo: repo, policy: r.retries}, nil
}

func (r *CycleRunner) create(ctx context.Context, item *model.WorkItemConfig) (model.CirrusObject, error) {
	user, err := r.gw.Solution.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	runType, err := r.gw.Solution.CycleStateDefault(ctx)
	if err != nil {
		return nil, err
	}
	obj := r.draft(item, map[string]interface{}{
		model.FieldStatusCd: statusCreated,
		fieldCycleInitiator: user.ID,
		fieldRunTypeCd:      runType,
	})
	if err := r.payload(ctx, item, obj, true); err != nil {
		return nil, err
	}
	repo, err := r.repository(model.RestPathCycles)
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

// update replaces the cycle keyed key, or the cycle of item when key is empty.
func (r *CycleRunner) update(ctx context.Context, item *model.WorkItemConfig, key string) (model.CirrusObject, error) {
	if key == "" {
		existing, err := r.findItem(ctx, item, model.FieldKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, &exception.NotFoundError{
				ObjectType: string(model.ObjectTypeCycle), ID: item.ID, SSC: item.SourceSystemCd(),
				Detail: "Unable to update cycle.",
			}
		}
		key = existing.Key()
	}
	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return nil, err
	}
	cycle, etag, err := repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, &exception.NotFoundError{ObjectType: string(model.ObjectTypeCycle), Key: key, Detail: "Unable to update cycle."}
	}
	if err := r.rejectCompleted(ctx, item, cycle); err != nil {
		return nil, err
	}
	if err := r.payload(ctx, item, cycle, false); err != nil {
		return nil, err
	}
	updated, _, err := repo.Update(ctx, cycle, etag, false)
	if err != nil {
		return nil, err
	}
	logger.Infof("Updated %s (key = '%s').", item.Label(), key)
	return updated, nil
}

// rejectCompleted fails when the workflow of cycle has already completed.
func (r *CycleRunner) rejectCompleted(ctx context.Context, item *model.WorkItemConfig, cycle model.CirrusObject) error {
	template, err := r.templateOf(ctx, cycle.Key(), false)
	if err != nil || template == nil {
		return err
	}
	def, err := r.gw.Definitions.GetByName(ctx, template.FieldString(fieldWfDefinitionName))
	if err != nil {
		return err
	}
	if cycle.IsWorkflowComplete(def.ID) {
		return exception.NewValidationError(item.Label(), "workflow is complete. Running and/or updating completed cycle is prohibited.")
	}
	return nil
}

// templateOf returns the workflow template linked to the cycle keyed cycleKey.
func (r *CycleRunner) templateOf(ctx context.Context, cycleKey string, required bool) (model.CirrusObject, error) {
	if cycleKey == "" {
		return nil, nil
	}
	repo, err := r.repository(model.RestPathWorkflowTemplates)
	if err != nil {
		return nil, err
	}
	templates, err := repo.GetByLinkTo(ctx, model.LinkTypeIdentifier(model.LinkTypeWorkflowTemplateCycle), cycleKey, port.LinkSideFrom)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		if required {
			return nil, &exception.NotFoundError{
				ObjectType: model.RestPathWorkflowTemplates, RelatedKey: cycleKey,
				Detail: "The cycle is not linked to a workflow template.",
			}
		}
		return nil, nil
	}
	return templates[0], nil
}

// payload applies the configuration of item to obj.
func (r *CycleRunner) payload(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject, useDefaults bool) error {
	reg, err := r.gw.Registrations.Registration(ctx, model.RestPathCycles)
	if err != nil {
		return err
	}
	template, err := r.configuredTemplate(ctx, item, obj)
	if err != nil {
		return err
	}
	r.setFields(obj, item, reg, model.FieldCurrentTaskParameters)
	if v := obj.FieldString(fieldRunTypeCd); v != "" {
		obj.SetField(fieldRunTypeCd, strings.ToUpper(v))
	}
	classification, role, classified, err := r.classify(ctx, item, reg)
	if err != nil {
		return err
	}
	if classified {
		obj.SetClassification(classification)
	}
	if err := r.links(ctx, item, obj, template, useDefaults); err != nil {
		return err
	}
	if err := r.defaults(ctx, obj, role); err != nil {
		return err
	}
	if err := r.validate(ctx, item, obj, template, role); err != nil {
		return err
	}
	finalize(obj)
	if r.deps.JobID != "" {
		obj.SetField(fieldBatchJobID, r.deps.JobID)
	}
	return nil
}

// configuredTemplate fetches the workflow template item links to and copies
// its diagram onto obj when obj has none.
func (r *CycleRunner) configuredTemplate(ctx context.Context, item *model.WorkItemConfig, obj model.CirrusObject) (model.CirrusObject, error) {
	id, ok := item.Link(model.LinkRoleWorkflowTemplate)
	if !ok {
		return nil, nil
	}
	template, err := r.require(ctx, model.RestPathWorkflowTemplates, id)
	if err != nil {
		return nil, err
	}
	diagram, ok := template.Field(fieldWfDiagram)
	if !ok || diagram == nil {
		return nil, exception.NewBatchErrorf(moduleName, "workflow template '%s' has no workflow diagram", id.Key())
	}
	obj.SetFieldIfEmpty(fieldWfDiagram, serialization.DeepCopy(diagram))
	return template, nil
}

func (r *CycleRunner) links(ctx context.Context, item *model.WorkItemConfig, obj, template model.CirrusObject, useDefaults bool) error {
	library, err := r.linkTarget(ctx, item, model.LinkRoleCodeLibrary, model.RestPathCodeLibraries, useDefaults, r.gw.Solution.CodeLibraryDefault)
	if err != nil {
		return err
	}
	if library != nil {
		if err := r.linkLibrary(ctx, obj, library, model.LinkTypeCycleCodeLibrary, model.LinkTypeCycleCodeLibraryDependents); err != nil {
			return err
		}
	}
	set, err := r.linkTarget(ctx, item, model.LinkRoleConfigurationSet, model.RestPathConfigurationSets, useDefaults, r.gw.Solution.ConfigurationSetDefault)
	if err != nil {
		return err
	}
	if set != nil {
		if err := r.putLink(ctx, obj, model.LinkTypeCycleConfigurationSet, attrToObject, set.Key()); err != nil {
			return err
		}
	}
	if template != nil {
		return r.putLink(ctx, obj, model.LinkTypeWorkflowTemplateCycle, attrFromObject, template.Key())
	}
	return nil
}

func (r *CycleRunner) defaults(ctx context.Context, obj model.CirrusObject, classificationRole string) error {
	if obj.FieldString(fieldRunTypeCd) == "" {
		runType, err := r.gw.Solution.CycleStateDefault(ctx)
		if err != nil {
			return err
		}
		if runType != "" {
			obj.SetField(fieldRunTypeCd, runType)
		}
	}
	enabled, err := r.gw.Solution.EntityRoleEnabled(ctx)
	if err != nil {
		return err
	}
	if enabled && obj.FieldString(fieldEntityRole) == "" && classificationRole != "" && classificationRole != entityRoleBoth {
		obj.SetField(fieldEntityRole, classificationRole)
	}
	return nil
}

// validate applies the production rules and the entity role rules.
func (r *CycleRunner) validate(ctx context.Context, item *model.WorkItemConfig, obj, template model.CirrusObject, classificationRole string) error {
	subject := item.Label()
	if template == nil {
		var err error
		if template, err = r.templateOf(ctx, obj.Key(), false); err != nil {
			return err
		}
	}
	if item.Action == model.ActionRun && template == nil {
		return exception.NewValidationError(subject, "a workflow template is required to run a cycle")
	}

	stateEnabled, err := r.gw.Solution.CycleStateEnabled(ctx)
	if err != nil {
		return err
	}
	runType := obj.FieldString(fieldRunTypeCd)
	production := !stateEnabled || runType == statusProd
	if production {
		if runType != statusProd {
			return exception.NewValidationError(subject, "runTypeCd must be %s when cycle states are disabled, found '%s'", statusProd, runType)
		}
		if err := r.validateLinked(ctx, subject, obj, model.LinkTypeCycleCodeLibrary, model.RestPathCodeLibraries, "code library"); err != nil {
			return err
		}
		if err := r.validateLinked(ctx, subject, obj, model.LinkTypeCycleConfigurationSet, model.RestPathConfigurationSets, "configuration set"); err != nil {
			return err
		}
		if template != nil {
			if err := r.validateTemplateScripts(ctx, subject, template); err != nil {
				return err
			}
		}
	}

	enabled, err := r.gw.Solution.EntityRoleEnabled(ctx)
	if err != nil || !enabled {
		return err
	}
	role := obj.FieldString(fieldEntityRole)
	if role == "" {
		return exception.NewValidationError(subject, "entityRole is mandatory")
	}
	if classificationRole != "" && classificationRole != entityRoleBoth && !strings.EqualFold(role, classificationRole) {
		return exception.NewValidationError(subject, "entityRole '%s' does not match the role '%s' of the classification", role, classificationRole)
	}
	return nil
}

func (r *CycleRunner) validateLinked(ctx context.Context, subject string, obj model.CirrusObject, linkTypeID, restPath, what string) error {
	key, err := r.linked(ctx, obj, linkTypeID, attrToObject)
	if err != nil {
		return err
	}
	target, err := r.byKey(ctx, restPath, key)
	if err != nil {
		return err
	}
	return requireProduction(subject, what, target)
}

func (r *CycleRunner) validateTemplateScripts(ctx context.Context, subject string, template model.CirrusObject) error {
	repo, err := r.repository(model.RestPathScripts)
	if err != nil {
		return err
	}
	scripts, err := repo.GetByLinkTo(ctx, model.LinkTypeIdentifier(model.LinkTypeWorkflowTemplateScript), template.Key(), port.LinkSideTo)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if err := requireProduction(subject, "workflow template script", script); err != nil {
			return err
		}
	}
	return nil
}

// run upserts the cycle and drives its workflow.
func (r *CycleRunner) run(ctx context.Context, item *model.WorkItemConfig) error {
	existing, err := r.findItem(ctx, item, model.FieldKey)
	if err != nil {
		return err
	}
	var cycle model.CirrusObject
	if existing == nil {
		cycle, err = r.create(ctx, item)
	} else {
		cycle, err = r.update(ctx, item, existing.Key())
	}
	if err != nil {
		return err
	}
	key := cycle.Key()

	template, err := r.templateOf(ctx, key, true)
	if err != nil {
		return err
	}
	def, err := r.gw.Definitions.GetByName(ctx, template.FieldString(fieldWfDefinitionName))
	if err != nil {
		return err
	}
	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return err
	}
	cycle, _, err = repo.GetByKey(ctx, key, model.FieldKey, model.FieldWorkflow)
	if err != nil {
		return err
	}
	if cycle == nil {
		return &exception.NotFoundError{ObjectType: string(model.ObjectTypeCycle), Key: key}
	}
	if !cycle.IsWorkflowRunning(def.ID) {
		if cycle, err = r.start(ctx, item, cycle, template, def); err != nil {
			return err
		}
	}
	if err := r.runTasks(ctx, item, key, template, def, cycle); err != nil {
		return err
	}
	logger.Infof("Workflow '%s' of %s stopped offering configured tasks.", def.Name, item.Label())
	return nil
}

// start runs the init task when the template asks for one, starts the
// workflow and waits for its first tasks.
func (r *CycleRunner) start(ctx context.Context, item *model.WorkItemConfig, cycle, template model.CirrusObject, def *model.WorkflowDefinition) (model.CirrusObject, error) {
	key := cycle.Key()
	if template.FieldBool(fieldInitializeFlg) {
		initTask, err := r.gw.Solution.InitTaskName(ctx)
		if err != nil {
			return nil, err
		}
		parameterSet := ""
		if wc := r.batch.NextWorkflowConfig(item.Key(), initTask); wc != nil {
			parameterSet = wc.ParameterSet
		}
		if err := r.runTask(ctx, item, key, template, initTask, parameterSet, true); err != nil {
			return nil, err
		}
	}
	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return nil, err
	}
	started, _, err := repo.StartWorkflow(ctx, key, def.ID)
	if err != nil {
		return nil, err
	}
	logger.Infof("Started workflow '%s' of %s.", def.Name, item.Label())
	if started != nil && started.HasWorkflowTasks(def.ID) {
		return started, nil
	}
	obj, _, err := r.gw.Waiter.WaitForWorkflowTasks(ctx, repo, key, def.ID, port.WaitOptions{
		Sleep:   r.deps.Settings.WorkflowWaitSleep,
		Timeout: r.deps.Settings.StartWaitTimeout,
		Check:   r.check(item),
	})
	return obj, err
}
