package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/core/domain/model"
)

func workflowObject() model.CirrusObject {
	return model.NewCirrusObject(map[string]interface{}{
		"key":            "10",
		"objectId":       "C1",
		"sourceSystemCd": "RCC",
		"workflow": map[string]interface{}{
			"definitions": []interface{}{
				map[string]interface{}{"id": "wf-1", "running": true, "complete": false},
			},
			"tasks": map[string]interface{}{
				"items": []interface{}{
					map[string]interface{}{
						"id":          "t1",
						"name":        "Submit",
						"actualOwner": "batch",
						"prompts": []interface{}{
							map[string]interface{}{
								"variableName": model.TransitionsVariable,
								"values": []interface{}{
									map[string]interface{}{"name": "run_script"},
									map[string]interface{}{"name": "skip"},
								},
							},
						},
					},
					map[string]interface{}{"id": "t2", "name": "Review"},
				},
			},
		},
	})
}

func TestCirrusObjectFields(t *testing.T) {
	obj := model.NewCirrusObject(nil)
	obj.SetField("name", "Cycle 1")
	obj.SetField("runTypeCd", "PROD")
	obj.SetFieldIfEmpty("runTypeCd", "TEST")
	obj.SetFieldIfEmpty("statusCd", "CREATED")

	assert.Equal(t, "Cycle 1", obj.Name())
	assert.Equal(t, "PROD", obj.FieldString("runTypeCd"))
	assert.Equal(t, "CREATED", obj.CustomFields()["statusCd"])
	assert.True(t, obj.HasField("runTypeCd"))
	assert.False(t, obj.HasField("missing"))

	clone := obj.Clone()
	clone.SetField("runTypeCd", "TEST")
	assert.Equal(t, "PROD", obj.FieldString("runTypeCd"))
}

func TestCirrusObjectLinks(t *testing.T) {
	obj := model.NewCirrusObject(map[string]interface{}{"links": []interface{}{"self"}})
	obj.AddObjectLinks(map[string]interface{}{"linkType": "1"})
	obj.AddObjectLinks(map[string]interface{}{"linkType": "2"})
	assert.Len(t, obj.ObjectLinks(), 2)

	obj.RemoveLinks()
	_, hasLinks := obj["links"]
	assert.False(t, hasLinks)

	obj.SetObjectLinks(nil)
	obj.RemoveObjectLinksIfEmpty()
	_, hasObjectLinks := obj["objectLinks"]
	assert.False(t, hasObjectLinks)
}

func TestCirrusObjectWorkflowView(t *testing.T) {
	obj := workflowObject()

	assert.True(t, obj.HasWorkflow(""))
	assert.True(t, obj.HasWorkflow("wf-1"))
	assert.False(t, obj.HasWorkflow("wf-2"))
	assert.True(t, obj.HasWorkflowTasks("wf-1"))
	assert.True(t, obj.IsWorkflowRunning("wf-1"))
	assert.False(t, obj.IsWorkflowComplete("wf-1"))

	claimed, err := obj.ClaimedTask("Submit", "wf-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "t1", claimed.ID)

	claimed, err = obj.ClaimedTask("Review", "wf-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	names, err := obj.TaskTransitionNames("Submit", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"run_script", "skip"}, names)
}

func TestCirrusObjectWithoutWorkflow(t *testing.T) {
	obj := model.NewCirrusObject(map[string]interface{}{"objectId": "C1"})
	assert.False(t, obj.HasWorkflow(""))
	assert.False(t, obj.IsWorkflowRunning(""))

	_, err := obj.ClaimedTask("Submit", "")
	assert.Error(t, err)
}
