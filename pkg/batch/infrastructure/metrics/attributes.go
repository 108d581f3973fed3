package metrics

import (
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// toAttributes converts loosely typed attributes into OTel key values, sorted by key.
func toAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAttribute(k, attrs[k]))
	}
	return out
}

func toAttribute(key string, v interface{}) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case time.Duration:
		return attribute.String(key, val.String())
	case []string:
		return attribute.StringSlice(key, val)
	case fmt.Stringer:
		return attribute.String(key, val.String())
	case nil:
		return attribute.String(key, "")
	}
	return attribute.String(key, fmt.Sprintf("%v", v))
}
