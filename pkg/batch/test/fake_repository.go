package test

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// FakeUserID owns every task claimed through a fake repository.
const FakeUserID = "batch-user"

// Operations recorded in the call log.
const (
	OpGetByKey      = "GetByKey"
	OpGetByID       = "GetByID"
	OpGetByFilter   = "GetByFilter"
	OpGetByLinkTo   = "GetByLinkTo"
	OpCreate        = "Create"
	OpUpdate        = "Update"
	OpDelete        = "DeleteByKey"
	OpStartWorkflow = "StartWorkflow"
	OpClaimTask     = "ClaimTask"
	OpTransition    = "Transition"
)

// FakeCall is one entry of the call log.
type FakeCall struct {
	Op       string
	RestPath string
	Key      string
	// Detail is the transition name for OpTransition, the task id for OpClaimTask.
	Detail string
	// Task is the workflow task a transition was submitted for.
	Task string
}

// FakeTransition is an edge of a fake workflow. An empty Next completes the workflow.
type FakeTransition struct {
	Name string
	Next string
}

// FakeWorkflowTask is a node of a fake workflow.
type FakeWorkflowTask struct {
	Name        string
	Transitions []FakeTransition
}

// FakeWorkflowDefinition scripts the progression of a workflow instance.
type FakeWorkflowDefinition struct {
	ID    string
	Name  string
	Tasks []FakeWorkflowTask
	// StartPolls is the number of fetches after the start that still see no tasks.
	StartPolls int
}

// NewLinearWorkflow builds a definition whose tasks follow one another. Every
// task offers each of transitions, and each transition moves to the next task.
func NewLinearWorkflow(id, name string, transitions []string, tasks ...string) *FakeWorkflowDefinition {
	def := &FakeWorkflowDefinition{ID: id, Name: name}
	for i, task := range tasks {
		next := ""
		if i+1 < len(tasks) {
			next = tasks[i+1]
		}
		t := FakeWorkflowTask{Name: task}
		for _, tr := range transitions {
			t.Transitions = append(t.Transitions, FakeTransition{Name: tr, Next: next})
		}
		def.Tasks = append(def.Tasks, t)
	}
	return def
}

func (d *FakeWorkflowDefinition) task(name string) *FakeWorkflowTask {
	for i := range d.Tasks {
		if d.Tasks[i].Name == name {
			return &d.Tasks[i]
		}
	}
	return nil
}

type fakeLink struct {
	linkType string
	from     string
	to       string
}

type fakeInstance struct {
	definition   *FakeWorkflowDefinition
	current      string
	taskSeq      int
	pendingPolls int
	claimed      bool
}

// FakeRepositories is an in-memory object service. It implements
// port.RepositoryFactory; every repository it hands out shares one store of
// links, workflows and call log.
type FakeRepositories struct {
	mu          sync.Mutex
	repos       map[string]*FakeRepository
	links       []fakeLink
	definitions map[string]*FakeWorkflowDefinition
	instances   map[string]*fakeInstance
	calls       []FakeCall
	errors      map[string]error
	keySeq      int
}

var _ port.RepositoryFactory = (*FakeRepositories)(nil)

// NewFakeRepositories creates an empty object service.
func NewFakeRepositories() *FakeRepositories {
	return &FakeRepositories{
		repos:       make(map[string]*FakeRepository),
		definitions: make(map[string]*FakeWorkflowDefinition),
		instances:   make(map[string]*fakeInstance),
		errors:      make(map[string]error),
	}
}

var knownRestPaths = map[string]struct{}{
	model.RestPathCycles: {}, model.RestPathAnalysisRuns: {}, model.RestPathScripts: {},
	model.RestPathCodeLibraries: {}, model.RestPathConfigurationSets: {},
	model.RestPathWorkflowTemplates: {}, model.RestPathLinkTypes: {}, model.RestPathNamedTrees: {},
}

// Repository returns the repository of restPath, or nil for unknown paths.
func (f *FakeRepositories) Repository(restPath string) port.ObjectRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[restPath]; ok {
		return r
	}
	if _, ok := knownRestPaths[restPath]; !ok {
		return nil
	}
	return f.repoLocked(restPath)
}

// Repo returns the concrete repository of restPath, creating it for any path.
func (f *FakeRepositories) Repo(restPath string) *FakeRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repoLocked(restPath)
}

func (f *FakeRepositories) repoLocked(restPath string) *FakeRepository {
	r, ok := f.repos[restPath]
	if !ok {
		r = &FakeRepository{owner: f, restPath: restPath, objects: make(map[string]*fakeObject)}
		f.repos[restPath] = r
	}
	return r
}

// AddDefinition registers a workflow definition that StartWorkflow can start.
func (f *FakeRepositories) AddDefinition(def *FakeWorkflowDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.definitions[def.ID] = def
}

// Definition returns a registered definition by name.
func (f *FakeRepositories) Definition(name string) *FakeWorkflowDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.definitions {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// Link records a link of linkTypeID from the object keyed from to the object keyed to.
func (f *FakeRepositories) Link(linkTypeID, from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addLinkLocked(linkTypeID, from, to)
}

func (f *FakeRepositories) addLinkLocked(linkTypeID, from, to string) {
	for _, l := range f.links {
		if l.linkType == linkTypeID && l.from == from && l.to == to {
			return
		}
	}
	f.links = append(f.links, fakeLink{linkType: linkTypeID, from: from, to: to})
}

// Linked returns the keys linked from key through linkTypeID.
func (f *FakeRepositories) Linked(linkTypeID, from string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, l := range f.links {
		if l.linkType == linkTypeID && l.from == from {
			keys = append(keys, l.to)
		}
	}
	return keys
}

// FailNext makes the next op on key fail with err. Create is keyed by the
// objectId of its payload, GetByID by the identifier key, GetByFilter by the filter.
func (f *FakeRepositories) FailNext(op, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[op+"|"+key] = err
}

func (f *FakeRepositories) injected(op, key string) error {
	err, ok := f.errors[op+"|"+key]
	if ok {
		delete(f.errors, op+"|"+key)
	}
	return err
}

// Calls returns a copy of the call log.
func (f *FakeRepositories) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many times op was called on restPath. An empty restPath counts every collection.
func (f *FakeRepositories) Count(op, restPath string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op && (restPath == "" || c.RestPath == restPath) {
			n++
		}
	}
	return n
}

// Transitions returns the transitions submitted for key, in order.
func (f *FakeRepositories) Transitions(key string) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Op == OpTransition && c.Key == key {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeRepositories) record(c FakeCall) {
	f.calls = append(f.calls, c)
}

func (f *FakeRepositories) nextKey(restPath string) string {
	f.keySeq++
	return fmt.Sprintf("%s-%d", restPath, f.keySeq)
}

type fakeObject struct {
	data    model.CirrusObject
	version int
}

func (o *fakeObject) etag() string {
	return strconv.Itoa(o.version)
}

// FakeRepository is one collection of a FakeRepositories store.
type FakeRepository struct {
	owner    *FakeRepositories
	restPath string
	objects  map[string]*fakeObject
}

var _ port.ObjectRepository = (*FakeRepository)(nil)

// Put stores obj as is and returns its key. A key is generated when obj has none.
func (r *FakeRepository) Put(obj model.CirrusObject) string {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	stored := obj.Clone()
	key := stored.Key()
	if key == "" {
		key = r.owner.nextKey(r.restPath)
		stored[model.FieldKey] = key
	}
	if _, ok := stored[model.FieldSourceSystemCd]; !ok {
		stored[model.FieldSourceSystemCd] = model.DefaultSourceSystemCd
	}
	prev, ok := r.objects[key]
	version := 1
	if ok {
		version = prev.version + 1
	}
	r.objects[key] = &fakeObject{data: stored, version: version}
	return key
}

// Object returns a copy of the stored object, or nil.
func (r *FakeRepository) Object(key string) model.CirrusObject {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	o, ok := r.objects[key]
	if !ok {
		return nil
	}
	return o.data.Clone()
}

// ObjectByID returns a copy of the stored object with the identifier, or nil.
func (r *FakeRepository) ObjectByID(id model.Identifier) model.CirrusObject {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if o := r.findByID(id); o != nil {
		return o.data.Clone()
	}
	return nil
}

// Len returns the number of stored objects.
func (r *FakeRepository) Len() int {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	return len(r.objects)
}

func (r *FakeRepository) findByID(id model.Identifier) *fakeObject {
	for _, key := range r.sortedKeys() {
		o := r.objects[key]
		if o.data.ObjectID() == id.ID && o.data.SourceSystemCd() == id.SourceSystemCd() {
			return o
		}
	}
	return nil
}

func (r *FakeRepository) sortedKeys() []string {
	keys := make([]string, 0, len(r.objects))
	for k := range r.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RestPath returns the collection name.
func (r *FakeRepository) RestPath() string { return r.restPath }

// GetByKey returns a projection of the object and its etag.
func (r *FakeRepository) GetByKey(_ context.Context, key string, fields ...string) (model.CirrusObject, string, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpGetByKey, RestPath: r.restPath, Key: key})
	if err := r.owner.injected(OpGetByKey, key); err != nil {
		return nil, "", err
	}
	o, ok := r.objects[key]
	if !ok {
		return nil, "", nil
	}
	r.pollWorkflow(key, o)
	return project(o.data, fields), o.etag(), nil
}

// GetByID returns a projection of the object with the identifier.
func (r *FakeRepository) GetByID(_ context.Context, id model.Identifier, fields ...string) (model.CirrusObject, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpGetByID, RestPath: r.restPath, Key: id.Key()})
	if err := r.owner.injected(OpGetByID, id.Key()); err != nil {
		return nil, err
	}
	o := r.findByID(id)
	if o == nil {
		return nil, nil
	}
	return project(o.data, fields), nil
}

var (
	eqPattern  = regexp.MustCompile(`^eq\(\s*([\w.]+)\s*,\s*'([^']*)'\s*\)$`)
	andPattern = regexp.MustCompile(`^and\((.*)\)$`)
)

// GetByFilter supports filters of the form eq(field,'value') and and(eq(...),eq(...)).
// An empty filter matches everything. Results are ordered by key.
func (r *FakeRepository) GetByFilter(_ context.Context, q port.Query) ([]model.CirrusObject, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpGetByFilter, RestPath: r.restPath, Detail: q.Filter})
	if err := r.owner.injected(OpGetByFilter, q.Filter); err != nil {
		return nil, err
	}
	conditions, err := parseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	var matched []model.CirrusObject
	for _, key := range r.sortedKeys() {
		o := r.objects[key]
		if matches(o.data, conditions) {
			matched = append(matched, project(o.data, q.Fields))
		}
	}
	if q.Start >= len(matched) {
		return []model.CirrusObject{}, nil
	}
	matched = matched[q.Start:]
	if limit := q.EffectiveLimit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type condition struct{ field, value string }

func parseFilter(filter string) ([]condition, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}
	parts := []string{filter}
	if m := andPattern.FindStringSubmatch(filter); m != nil {
		parts = splitTopLevel(m[1])
	}
	var out []condition
	for _, p := range parts {
		m := eqPattern.FindStringSubmatch(strings.TrimSpace(p))
		if m == nil {
			return nil, fmt.Errorf("fake repository cannot evaluate filter %q", filter)
		}
		out = append(out, condition{field: m[1], value: m[2]})
	}
	return out, nil
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func matches(obj model.CirrusObject, conditions []condition) bool {
	for _, c := range conditions {
		name := strings.TrimPrefix(c.field, model.FieldCustomFields+".")
		if obj.FieldString(name) != c.value && fmt.Sprint(obj[name]) != c.value {
			return false
		}
	}
	return true
}

// GetByLinkTo returns the objects of this collection linked to objectKey.
func (r *FakeRepository) GetByLinkTo(_ context.Context, linkType model.Identifier, objectKey string, side int) ([]model.CirrusObject, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpGetByLinkTo, RestPath: r.restPath, Key: objectKey, Detail: linkType.ID})
	var out []model.CirrusObject
	for _, l := range r.owner.links {
		if l.linkType != linkType.ID {
			continue
		}
		var candidate string
		switch {
		case side == port.LinkSideFrom && l.to == objectKey:
			candidate = l.from
		case side == port.LinkSideTo && l.from == objectKey:
			candidate = l.to
		default:
			continue
		}
		if o, ok := r.objects[candidate]; ok {
			out = append(out, o.data.Clone())
		}
	}
	return out, nil
}

// Create stores obj under a generated key.
func (r *FakeRepository) Create(_ context.Context, obj model.CirrusObject) (model.CirrusObject, string, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	stored := obj.Clone()
	key := r.owner.nextKey(r.restPath)
	r.owner.record(FakeCall{Op: OpCreate, RestPath: r.restPath, Key: key})
	if err := r.owner.injected(OpCreate, obj.ObjectID()); err != nil {
		return nil, "", err
	}
	stored[model.FieldKey] = key
	r.applyLinks(key, stored)
	o := &fakeObject{data: stored, version: 1}
	r.objects[key] = o
	return o.data.Clone(), o.etag(), nil
}

// Update replaces or patches the object. A patch carrying workflow.taskId
// submits the transition named by its variables.
func (r *FakeRepository) Update(_ context.Context, obj model.CirrusObject, etag string, patch bool) (model.CirrusObject, string, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	key := obj.Key()
	r.owner.record(FakeCall{Op: OpUpdate, RestPath: r.restPath, Key: key})
	if err := r.owner.injected(OpUpdate, key); err != nil {
		return nil, "", err
	}
	o, ok := r.objects[key]
	if !ok {
		return nil, "", &exception.NotFoundError{ObjectType: r.restPath, Key: key}
	}
	if etag != "" && etag != o.etag() {
		return nil, "", exception.NewOptimisticLockingFailureException("test", fmt.Sprintf("etag '%s' of '%s' is stale", etag, key), nil)
	}

	incoming := obj.Clone()
	if wf, isMap := incoming[model.FieldWorkflow].(map[string]interface{}); isMap && patch {
		delete(incoming, model.FieldWorkflow)
		if err := r.transition(key, o, wf); err != nil {
			return nil, "", err
		}
	}
	r.applyLinks(key, incoming)

	if patch {
		for k, v := range incoming {
			if k == model.FieldCustomFields {
				custom, _ := v.(map[string]interface{})
				target := o.data.CustomFields()
				for ck, cv := range custom {
					target[ck] = cv
				}
				continue
			}
			o.data[k] = v
		}
	} else {
		workflow, hasWorkflow := o.data[model.FieldWorkflow]
		o.data = incoming
		if hasWorkflow {
			o.data[model.FieldWorkflow] = workflow
		}
	}
	o.data[model.FieldKey] = key
	o.version++
	return o.data.Clone(), o.etag(), nil
}

// DeleteByKey removes the object.
func (r *FakeRepository) DeleteByKey(_ context.Context, key string) error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpDelete, RestPath: r.restPath, Key: key})
	if err := r.owner.injected(OpDelete, key); err != nil {
		return err
	}
	delete(r.objects, key)
	return nil
}

// StartWorkflow starts an instance of a registered definition on the object.
func (r *FakeRepository) StartWorkflow(_ context.Context, key, definitionID string) (model.CirrusObject, string, error) {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpStartWorkflow, RestPath: r.restPath, Key: key, Detail: definitionID})
	if err := r.owner.injected(OpStartWorkflow, key); err != nil {
		return nil, "", err
	}
	o, ok := r.objects[key]
	if !ok {
		return nil, "", &exception.NotFoundError{ObjectType: r.restPath, Key: key}
	}
	def, ok := r.owner.definitions[definitionID]
	if !ok {
		return nil, "", fmt.Errorf("workflow definition '%s' is not registered", definitionID)
	}
	inst := &fakeInstance{definition: def, pendingPolls: def.StartPolls}
	if len(def.Tasks) > 0 {
		inst.current = def.Tasks[0].Name
	}
	r.owner.instances[r.restPath+"|"+key] = inst
	r.writeWorkflow(o, inst)
	o.version++
	return o.data.Clone(), o.etag(), nil
}

// ClaimTask marks the current task as owned by FakeUserID.
func (r *FakeRepository) ClaimTask(_ context.Context, key, taskID string) error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	r.owner.record(FakeCall{Op: OpClaimTask, RestPath: r.restPath, Key: key, Detail: taskID})
	if err := r.owner.injected(OpClaimTask, key); err != nil {
		return err
	}
	inst, ok := r.owner.instances[r.restPath+"|"+key]
	if !ok || inst.taskID() != taskID {
		return fmt.Errorf("task '%s' of '%s' cannot be claimed", taskID, key)
	}
	inst.claimed = true
	o := r.objects[key]
	r.writeWorkflow(o, inst)
	o.version++
	return nil
}

func (inst *fakeInstance) taskID() string {
	return fmt.Sprintf("%s-%d", inst.current, inst.taskSeq)
}

func (r *FakeRepository) transition(key string, o *fakeObject, wf map[string]interface{}) error {
	inst, ok := r.owner.instances[r.restPath+"|"+key]
	if !ok {
		return fmt.Errorf("object '%s' has no running workflow", key)
	}
	taskID := fmt.Sprint(wf["taskId"])
	variables, _ := wf["variables"].(map[string]interface{})
	name := fmt.Sprint(variables[model.TransitionsVariable])
	if inst.current == "" || taskID != inst.taskID() {
		return fmt.Errorf("task '%s' of '%s' is not active", taskID, key)
	}
	task := inst.definition.task(inst.current)
	r.owner.record(FakeCall{Op: OpTransition, RestPath: r.restPath, Key: key, Detail: name, Task: inst.current})
	for _, t := range task.Transitions {
		if t.Name == name {
			inst.current = t.Next
			inst.taskSeq++
			inst.claimed = false
			r.writeWorkflow(o, inst)
			return nil
		}
	}
	return fmt.Errorf("transition '%s' is not offered by task '%s'", name, task.Name)
}

func (r *FakeRepository) pollWorkflow(key string, o *fakeObject) {
	inst, ok := r.owner.instances[r.restPath+"|"+key]
	if !ok || inst.pendingPolls == 0 {
		return
	}
	inst.pendingPolls--
	r.writeWorkflow(o, inst)
}

func (r *FakeRepository) writeWorkflow(o *fakeObject, inst *fakeInstance) {
	complete := inst.current == ""
	items := []interface{}{}
	if !complete && inst.pendingPolls == 0 {
		task := inst.definition.task(inst.current)
		values := make([]interface{}, 0, len(task.Transitions))
		for _, t := range task.Transitions {
			values = append(values, map[string]interface{}{"name": t.Name, "value": t.Name})
		}
		item := map[string]interface{}{
			"id":   inst.taskID(),
			"name": task.Name,
			"prompts": []interface{}{map[string]interface{}{
				"id":           "prompt-" + inst.taskID(),
				"name":         "Transition",
				"variableName": model.TransitionsVariable,
				"values":       values,
			}},
		}
		if inst.claimed {
			item["actualOwner"] = FakeUserID
		}
		items = append(items, item)
	}
	o.data[model.FieldWorkflow] = map[string]interface{}{
		"definitions": []interface{}{map[string]interface{}{
			"id":       inst.definition.ID,
			"name":     inst.definition.Name,
			"running":  !complete,
			"complete": complete,
		}},
		"tasks": map[string]interface{}{"items": items},
	}
}

// applyLinks turns objectLinks of a payload into stored links and drops them
// from the stored object.
func (r *FakeRepository) applyLinks(key string, obj model.CirrusObject) {
	for _, l := range obj.ObjectLinks() {
		linkType := strings.TrimPrefix(fmt.Sprint(l["linkType"]), FakeLinkTypeKeyPrefix)
		from, _ := l["businessObject1"].(string)
		to, _ := l["businessObject2"].(string)
		if from == "" {
			from = key
		}
		if to == "" {
			to = key
		}
		r.owner.addLinkLocked(linkType, from, to)
	}
	delete(obj, model.FieldObjectLinks)
}

// project returns a copy of obj restricted to fields. Identity attributes are always kept.
func project(obj model.CirrusObject, fields []string) model.CirrusObject {
	if len(fields) == 0 {
		return obj.Clone()
	}
	out := model.CirrusObject{}
	for _, k := range []string{model.FieldKey, model.FieldObjectID, model.FieldSourceSystemCd} {
		if v, ok := obj[k]; ok {
			out[k] = v
		}
	}
	custom, _ := obj[model.FieldCustomFields].(map[string]interface{})
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = serialization.DeepCopy(v)
			continue
		}
		if v, ok := custom[f]; ok {
			out.CustomFields()[f] = serialization.DeepCopy(v)
		}
	}
	return out
}
