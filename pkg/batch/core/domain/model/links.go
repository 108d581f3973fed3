package model

// Link type identifiers. All of them live in the default source system.
const (
	LinkTypeCycleCodeLibrary            = "cycle_codeLibrary"
	LinkTypeCycleCodeLibraryDependents  = "cycle_codeLibrary_dependents"
	LinkTypeCycleConfigurationSet       = "cycle_configurationSet"
	LinkTypeWorkflowTemplateCycle       = "wfTemplate_cycle"
	LinkTypeWorkflowTemplateScript      = "wfTemplate_script"
	LinkTypeAnalysisRunCycle            = "analysisRun_cycle"
	LinkTypeAnalysisRunScript           = "analysisRun_script"
	LinkTypeAnalysisRunCodeLibrary      = "analysisRun_codeLibrary"
	LinkTypeAnalysisRunCodeLibraryDeps  = "analysisRun_codeLibrary_dependents"
	LinkTypeAnalysisRunConfigurationSet = "analysisRun_configurationSet"
	LinkTypeAnalysisRunJobOwner         = "analysisRun_jobOwner"
	LinkTypeCodeLibraryDependsOnLibrary = "codeLibrary_dependsOn_codeLibrary"
)

// LinkTypeIdentifier returns the identifier of a link type in the default source system.
func LinkTypeIdentifier(linkTypeID string) Identifier {
	return NewIdentifier(linkTypeID, DefaultSourceSystemCd)
}

// ObjectLink is one entry of a remote object's objectLinks array.
type ObjectLink struct {
	ObjectID        string `json:"objectId" mapstructure:"objectId"`
	SourceSystemCd  string `json:"sourceSystemCd" mapstructure:"sourceSystemCd"`
	LinkType        string `json:"linkType" mapstructure:"linkType"`
	BusinessObject1 string `json:"businessObject1" mapstructure:"businessObject1"`
	BusinessObject2 string `json:"businessObject2" mapstructure:"businessObject2"`
}

// ToMap converts the link into its JSON object form.
func (l ObjectLink) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"objectId":        l.ObjectID,
		"sourceSystemCd":  l.SourceSystemCd,
		"linkType":        l.LinkType,
		"businessObject1": l.BusinessObject1,
		"businessObject2": l.BusinessObject2,
	}
}
