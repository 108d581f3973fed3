package serialization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

func TestDeepCopyIsIndependent(t *testing.T) {
	src := map[string]interface{}{
		"value": []interface{}{map[string]interface{}{"Params": map[string]interface{}{"a": 1.0}}},
	}
	cp := serialization.DeepCopyMap(src)

	cp["value"].([]interface{})[0].(map[string]interface{})["Params"].(map[string]interface{})["a"] = 2.0

	assert.Equal(t, 1.0, src["value"].([]interface{})[0].(map[string]interface{})["Params"].(map[string]interface{})["a"])
	assert.Empty(t, serialization.DeepCopyMap(nil))
}

func TestParseLoose(t *testing.T) {
	assert.Equal(t, 3.0, serialization.ParseLoose("3"))
	assert.Equal(t, map[string]interface{}{"a": "b"}, serialization.ParseLoose(`{"a":"b"}`))
	assert.Equal(t, "plain text", serialization.ParseLoose("plain text"))
	assert.Equal(t, "", serialization.ParseLoose(""))
}

func TestMaskedJSON(t *testing.T) {
	out := serialization.MaskedJSON(map[string]interface{}{
		"username": "batch",
		"nested":   map[string]interface{}{"Password": "secret"},
	})
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, `"username":"batch"`)
}

func TestMarshalUnmarshal(t *testing.T) {
	data, err := serialization.Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	var out map[string]interface{}
	require.NoError(t, serialization.Unmarshal([]byte(`{"step":2}`), &out))
	assert.Equal(t, 2.0, out["step"])
	require.NoError(t, serialization.Unmarshal(nil, &out))
	require.Error(t, serialization.Unmarshal([]byte("{"), &out))
}
