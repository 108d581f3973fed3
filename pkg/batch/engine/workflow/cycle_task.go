package workflow

import (
	"context"
	"fmt"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/diagram"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// runTasks submits the configured transitions of the offered tasks until the
// workflow stops running or offers no configured task.
func (r *CycleRunner) runTasks(ctx context.Context, item *model.WorkItemConfig, key string, template model.CirrusObject, def *model.WorkflowDefinition, cycle model.CirrusObject) error {
	runScript, err := r.gw.Solution.RunScriptTransitionName(ctx)
	if err != nil {
		return err
	}
	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return err
	}
	check := r.check(item)

	running := cycle.IsWorkflowRunning(def.ID)
	hasTasks := cycle.HasWorkflowTasks(def.ID)
	for hasTasks && running {
		tasks := tasksToRun(cycle, r.batch.UncompletedTaskNames(item.Key()))
		hasTasks = len(tasks) > 0
		for _, task := range tasks {
			if !task.Claimed {
				if err := repo.ClaimTask(ctx, key, task.ID); err != nil {
					return err
				}
				logger.Debugf("Claimed task '%s' of %s.", task.Name, item.Label())
			}
		}
		for _, task := range tasks {
			if err := check(ctx); err != nil {
				return err
			}
			wc := r.batch.NextWorkflowConfig(item.Key(), task.Name)
			if wc == nil {
				continue
			}
			transition := wc.TransitionName
			available := task.TransitionNames()
			if !contains(available, transition) {
				return &exception.TransitionUnavailableError{Transition: transition, Task: task.Name, Available: available}
			}
			if transition == runScript {
				if err := r.runTask(ctx, item, key, template, task.Name, wc.ParameterSet, false); err != nil {
					if !exception.IsScriptExecution(err) || !wc.HasErrorTransition() {
						return err
					}
					logger.Warnf("Task '%s' of %s failed, taking transition '%s': %v", task.Name, item.Label(), wc.ErrorTransitionName, err)
					transition = wc.ErrorTransitionName
				}
			}
			if !contains(available, transition) {
				return &exception.TransitionUnavailableError{Transition: transition, Task: task.Name, Available: available}
			}
			if cycle, hasTasks, err = r.transition(ctx, item, key, task, transition, def); err != nil {
				return err
			}
			wc.MarkProcessed()
		}
		running = cycle.IsWorkflowRunning(def.ID)
	}
	return nil
}

// tasksToRun returns the offered tasks that still have configured transitions.
func tasksToRun(cycle model.CirrusObject, uncompleted map[string]struct{}) []model.WorkflowTask {
	var out []model.WorkflowTask
	for _, t := range cycle.WorkflowTasks() {
		if _, ok := uncompleted[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// transition submits transition on task and returns the refreshed cycle. It
// waits for new tasks when the workflow is still running without any.
func (r *CycleRunner) transition(ctx context.Context, item *model.WorkItemConfig, key string, task model.WorkflowTask, transition string, def *model.WorkflowDefinition) (model.CirrusObject, bool, error) {
	skip, err := r.gw.Solution.SkipTransitionName(ctx)
	if err != nil {
		return nil, false, err
	}
	status := model.DiagramStatusCompleted
	if transition == skip {
		status = model.DiagramStatusSkipped
	}
	p, err := r.patcher()
	if err != nil {
		return nil, false, err
	}
	updated, err := p.patch(ctx, key, []string{model.FieldObjectID, model.FieldSourceSystemCd, model.FieldWorkflow, fieldWfDiagram},
		func(obj model.CirrusObject) error {
			if !obj.HasWorkflowTasks(def.ID) {
				return exception.NewBatchErrorf(moduleName, "workflow of %s has no tasks or has not started", item.Label())
			}
			setDiagramStatus(obj, task.Name, status)
			obj[model.FieldWorkflow] = map[string]interface{}{
				"taskId":    task.ID,
				"variables": map[string]interface{}{model.TransitionsVariable: transition},
			}
			obj.RemoveLinks()
			delete(obj, fieldMediaTypeVersion)
			delete(obj, model.FieldObjectID)
			delete(obj, model.FieldSourceSystemCd)
			return nil
		})
	if err != nil {
		return nil, false, err
	}
	logger.Infof("Submitted transition '%s' of task '%s' of %s.", transition, task.Name, item.Label())

	repo, err := r.repository(model.RestPathCycles)
	if err != nil {
		return nil, false, err
	}
	if updated == nil || !updated.HasWorkflow(def.ID) {
		if updated, _, err = repo.GetByKey(ctx, key, model.FieldKey, model.FieldWorkflow); err != nil {
			return nil, false, err
		}
		if updated == nil {
			return nil, false, &exception.NotFoundError{ObjectType: string(model.ObjectTypeCycle), Key: key}
		}
	}
	if updated.HasWorkflowTasks(def.ID) || !updated.IsWorkflowRunning(def.ID) {
		return updated, true, nil
	}
	obj, _, err := r.gw.Waiter.WaitForWorkflowTasks(ctx, repo, key, def.ID, port.WaitOptions{
		Sleep:   r.deps.Settings.WorkflowWaitSleep,
		Timeout: r.deps.Settings.WorkflowWaitTimeout,
		Check:   r.check(item),
	})
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// setDiagramStatus updates the node of task in the wfDiagram of obj, if any.
func setDiagramStatus(obj model.CirrusObject, task string, status model.DiagramNodeStatus) {
	raw, ok := obj.Field(fieldWfDiagram)
	if !ok || raw == nil {
		return
	}
	d, err := model.ParseDiagram(raw)
	if err != nil {
		logger.Warnf("Workflow diagram of '%s' cannot be read: %v", obj.Key(), err)
		return
	}
	obj.SetField(fieldWfDiagram, diagram.Update(d, task, status).ToMap())
}

// taskScript returns the script of the task named name in the template's
// task details. ok is false when the task has no script.
func taskScript(template model.CirrusObject, name string) (script model.Identifier, ok bool, err error) {
	raw, _ := template.Field(fieldWfTaskDetails)
	details, _ := raw.([]interface{})
	for _, d := range details {
		detail, isMap := d.(map[string]interface{})
		if !isMap || fmt.Sprint(detail["name"]) != name {
			continue
		}
		ref, isMap := detail["script"].(map[string]interface{})
		if !isMap {
			return model.Identifier{}, false, nil
		}
		id := model.CirrusObject(ref)
		if id.ObjectID() == "" {
			return model.Identifier{}, false, nil
		}
		return model.NewIdentifier(id.ObjectID(), id.SourceSystemCd()), true, nil
	}
	return model.Identifier{}, false, exception.NewBatchErrorf(moduleName, "workflow template '%s' has no details of task '%s'", template.Identifier().Key(), name)
}

// runTask executes the script of a task and waits for it. The job is always
// removed from the cycle afterwards and the diagram shows the outcome.
func (r *CycleRunner) runTask(ctx context.Context, item *model.WorkItemConfig, key string, template model.CirrusObject, taskName, parameterSet string, initTask bool) (err error) {
	ctx, end := r.deps.Tracer.StartSpan(ctx, metrics.SpanWorkflowTask, map[string]interface{}{
		"cycle": item.Key(), "task": taskName,
	})
	defer func() {
		if err != nil {
			r.deps.Tracer.RecordError(ctx, moduleName, err)
		}
		end()
	}()

	scriptID, hasScript, err := taskScript(template, taskName)
	if err != nil {
		return err
	}
	if !hasScript {
		if initTask {
			return exception.NewBatchErrorf(moduleName, "init task '%s' of %s has no script", taskName, item.Label())
		}
		logger.Debugf("Task '%s' of %s has no script.", taskName, item.Label())
		return nil
	}
	script, err := r.require(ctx, model.RestPathScripts, scriptID)
	if err != nil {
		return err
	}
	machine, ui, err := r.parameters(ctx, item, script, taskName, parameterSet)
	if err != nil {
		return err
	}

	p, err := r.patcher()
	if err != nil {
		return err
	}
	if _, err := p.patch(ctx, key, []string{model.FieldCurrentTaskParameters}, func(obj model.CirrusObject) error {
		obj.SetField(model.FieldCurrentTaskParameters, map[string]interface{}{taskName: ui})
		return nil
	}); err != nil {
		return err
	}

	job, err := r.gw.Scripts.Execute(ctx, port.ScriptRequest{
		ObjectKey:  key,
		RestPath:   model.RestPathCycles,
		TaskName:   taskName,
		Parameters: machine,
	})
	if err != nil {
		if cleanupErr := r.cleanup(ctx, key, nil, taskName, true); cleanupErr != nil {
			logger.Warnf("Cleanup of task '%s' of %s failed: %v", taskName, item.Label(), cleanupErr)
		}
		return err
	}
	logger.Infof("Submitted the script of task '%s' of %s (analysis run = '%s').", taskName, item.Label(), job.AnalysisRunID)

	_, err = p.patch(ctx, key, []string{model.FieldCurrentTaskParameters, fieldWfDiagram}, func(obj model.CirrusObject) error {
		setDiagramStatus(obj, taskName, model.DiagramStatusRunning)
		current := currentTaskParameters(obj)
		jobs, _ := current[jobsKey].([]interface{})
		current[jobsKey] = append(jobs, job.ToMap())
		obj.SetField(model.FieldCurrentTaskParameters, current)
		return nil
	})
	if err == nil {
		_, err = r.gw.Scripts.Wait(ctx, job.AnalysisRunID, port.WaitOptions{
			Sleep:   r.deps.Settings.ScriptWaitSleep,
			Timeout: r.deps.Settings.ScriptWaitTimeout,
			Check:   r.check(item),
		})
	}
	cleanupErr := r.cleanup(ctx, key, job, taskName, err != nil)
	if err != nil {
		if cleanupErr != nil {
			logger.Warnf("Cleanup of task '%s' of %s failed: %v", taskName, item.Label(), cleanupErr)
		}
		return err
	}
	return cleanupErr
}

// parameters returns the machine and UI parameters of a task script. A
// configured currentTaskParameters value is used verbatim.
func (r *CycleRunner) parameters(ctx context.Context, item *model.WorkItemConfig, script model.CirrusObject, taskName, parameterSet string) (machine, ui map[string]interface{}, err error) {
	if m, u, ok := item.ScriptParameterOverride(); ok {
		return serialization.DeepCopyMap(m), serialization.DeepCopyMap(u), nil
	}
	group := r.batch.CycleScriptParameters(item.Key(), taskName, parameterSet)
	machine, ui, err = r.params.ResolveGroup(ctx, group, script)
	if err != nil {
		return nil, nil, err
	}
	if machine == nil {
		machine = map[string]interface{}{}
	}
	if ui == nil {
		ui = map[string]interface{}{}
	}
	return machine, ui, nil
}

// cleanup removes job and the parameters of task from the cycle and records
// the outcome in the diagram. It runs even when ctx is canceled.
func (r *CycleRunner) cleanup(ctx context.Context, key string, job *model.ScriptJob, taskName string, failed bool) error {
	ctx = context.WithoutCancel(ctx)
	status := model.DiagramStatusCompleted
	if failed {
		status = model.DiagramStatusFailed
	}
	p, err := r.patcher()
	if err != nil {
		return err
	}
	_, err = p.patch(ctx, key, []string{model.FieldCurrentTaskParameters, fieldWfDiagram}, func(obj model.CirrusObject) error {
		current := currentTaskParameters(obj)
		if job != nil {
			jobs, _ := current[jobsKey].([]interface{})
			kept := make([]interface{}, 0, len(jobs))
			for _, j := range jobs {
				if m, ok := j.(map[string]interface{}); ok && fmt.Sprint(m["analysisRunID"]) == job.AnalysisRunID {
					continue
				}
				kept = append(kept, j)
			}
			current[jobsKey] = kept
		}
		delete(current, taskName)
		obj.SetField(model.FieldCurrentTaskParameters, current)
		setDiagramStatus(obj, taskName, status)
		return nil
	})
	return err
}

func currentTaskParameters(obj model.CirrusObject) map[string]interface{} {
	raw, _ := obj.Field(model.FieldCurrentTaskParameters)
	current, ok := raw.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return current
}
