package model

// ClassificationEntry places an object on a path of a named tree (a dimension).
type ClassificationEntry struct {
	NamedTreeID    string `yaml:"namedTreeId" json:"namedTreeId" mapstructure:"namedTreeId"`
	SourceSystemCd string `yaml:"sourceSystemCd" json:"sourceSystemCd" mapstructure:"sourceSystemCd"`
	Path           string `yaml:"path" json:"path" mapstructure:"path"`
}

// NamedTree returns the identifier of the entry's named tree.
func (e ClassificationEntry) NamedTree() Identifier {
	return NewIdentifier(e.NamedTreeID, e.SourceSystemCd)
}

// WorkflowDefinition is a deployed workflow definition.
type WorkflowDefinition struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
}

// User is the identity the batch runs as.
type User struct {
	ID   string `json:"id" mapstructure:"id"`
	Name string `json:"name" mapstructure:"name"`
}

// ObjectRegistration describes a registered object type.
type ObjectRegistration struct {
	Key      string `json:"key" mapstructure:"key"`
	ObjectID string `json:"objectId" mapstructure:"objectId"`
	RestPath string `json:"restPath" mapstructure:"restPath"`
	// ClassificationContext is the first context of the registered classification.
	ClassificationContext string   `json:"classificationContext,omitempty" mapstructure:"classificationContext"`
	FieldNames            []string `json:"fieldNames,omitempty" mapstructure:"fieldNames"`
}

// HasField reports whether name is a registered custom field.
func (r *ObjectRegistration) HasField(name string) bool {
	if r == nil {
		return false
	}
	for _, f := range r.FieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// ScriptJob is the handle of a submitted script execution.
type ScriptJob struct {
	AnalysisRunID string                 `json:"analysisRunID" mapstructure:"analysisRunID"`
	Extra         map[string]interface{} `json:"-" mapstructure:",remain"`
}

// ToMap returns the job in the form stored under currentTaskParameters.__jobs__.
func (j *ScriptJob) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(j.Extra)+1)
	for k, v := range j.Extra {
		m[k] = v
	}
	m["analysisRunID"] = j.AnalysisRunID
	return m
}

// Script statuses reported through statusCd of an analysis run.
const (
	ScriptStatusSuccess = "SUCCESS"
	ScriptStatusFailed  = "FAILED"
)

// IsScriptInProgress reports whether a statusCd means the script is still running.
func IsScriptInProgress(status string) bool {
	switch status {
	case "CREATED", "PENDING", "RUNNING", "VALIDATING", "CANCELING":
		return true
	default:
		return false
	}
}
