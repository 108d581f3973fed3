// Package serialization provides JSON helpers shared by the gateway, the
// parameter engine and the shared state store.
package serialization

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/cirrusbatch/pkg/batch/support/util/logger"
)

const moduleName = "serialization"

// DefaultMaskedKeys lists payload keys whose values never reach a log line.
var DefaultMaskedKeys = []string{"password", "client_secret", "access_token", "refresh_token", "authorization"}

// Marshal serializes v into JSON, mapping nil maps to "{}".
func Marshal(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("Failed to serialize value: %v", err)
		return nil, exception.NewBatchError(moduleName, "failed to serialize value", err, false, false)
	}
	return data, nil
}

// RawMessage is an encoded JSON document kept as is.
type RawMessage = json.RawMessage

// MarshalIndent serializes v into two-space indented JSON.
func MarshalIndent(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to serialize value", err, false, false)
	}
	return data, nil
}

// Unmarshal deserializes data into target. Empty input and "null" leave target untouched.
// Numbers decode as float64, matching what the remote service returns.
func Unmarshal(data []byte, target interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		logger.Errorf("Failed to deserialize value: %v", err)
		return exception.NewBatchError(moduleName, "failed to deserialize value", err, false, false)
	}
	return nil
}

// DeepCopy returns a structurally independent copy of a JSON-shaped value
// (maps, slices, strings, numbers, booleans, nil).
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// DeepCopyMap is DeepCopy for the common map case; nil yields an empty map.
func DeepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return DeepCopy(m).(map[string]interface{})
}

// ParseLoose JSON-decodes s when it is valid JSON and returns s unchanged otherwise.
func ParseLoose(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return s
	}
	return v
}

// MaskedJSON renders v as JSON for logging, replacing the values of masked keys at any depth.
func MaskedJSON(v interface{}, maskedKeys ...string) string {
	if len(maskedKeys) == 0 {
		maskedKeys = DefaultMaskedKeys
	}
	masked := mask(DeepCopy(v), maskedKeys)
	data, err := json.Marshal(masked)
	if err != nil {
		return "<unserializable>"
	}
	return string(data)
}

func mask(v interface{}, keys []string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if isMasked(k, keys) {
				t[k] = "********"
				continue
			}
			t[k] = mask(val, keys)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = mask(val, keys)
		}
		return t
	default:
		return v
	}
}

func isMasked(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
