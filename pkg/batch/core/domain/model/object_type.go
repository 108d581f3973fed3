package model

// ObjectType names a kind of remote business object.
type ObjectType string

const (
	ObjectTypeCycle       ObjectType = "Cycle"
	ObjectTypeAnalysisRun ObjectType = "AnalysisRun"
)

// Rest paths under /riskCirrusObjects/objects.
const (
	RestPathCycles            = "cycles"
	RestPathAnalysisRuns      = "analysisRuns"
	RestPathScripts           = "scripts"
	RestPathCodeLibraries     = "codeLibraries"
	RestPathConfigurationSets = "configurationSets"
	RestPathWorkflowTemplates = "workflowTemplates"
	RestPathLinkTypes         = "linkTypes"
	RestPathNamedTrees        = "namedTrees"
)

// RestPath returns the REST collection of the object type.
func (t ObjectType) RestPath() string {
	switch t {
	case ObjectTypeCycle:
		return RestPathCycles
	case ObjectTypeAnalysisRun:
		return RestPathAnalysisRuns
	default:
		return ""
	}
}

// String returns the string representation of the ObjectType.
func (t ObjectType) String() string {
	return string(t)
}

// ObjectTypeForRestPath is the inverse of RestPath. ok is false for unknown paths.
func ObjectTypeForRestPath(restPath string) (ObjectType, bool) {
	switch restPath {
	case RestPathCycles:
		return ObjectTypeCycle, true
	case RestPathAnalysisRuns:
		return ObjectTypeAnalysisRun, true
	default:
		return "", false
	}
}
