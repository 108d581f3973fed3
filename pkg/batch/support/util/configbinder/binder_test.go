package configbinder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/configbinder"
)

type storageProps struct {
	Type    string `yaml:"type"`
	BaseDir string `yaml:"base_dir"`
	Retries int    `yaml:"retries"`
}

type workflowTask struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestBindPropertiesWeaklyTyped(t *testing.T) {
	var out storageProps
	err := configbinder.BindProperties(map[string]interface{}{
		"type":     "local",
		"base_dir": "/tmp/reports",
		"retries":  "3",
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, storageProps{Type: "local", BaseDir: "/tmp/reports", Retries: 3}, out)
}

func TestBindUsesJSONTags(t *testing.T) {
	var tasks []workflowTask
	err := configbinder.Bind([]interface{}{
		map[string]interface{}{"id": "t1", "name": "Validate", "extra": true},
	}, &tasks)

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Validate", tasks[0].Name)
}

func TestBindReportsTargetType(t *testing.T) {
	var out storageProps
	err := configbinder.BindProperties(map[string]interface{}{"retries": "many"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storageProps")
}
