// Package configbinder decodes loosely typed maps into typed structs with mapstructure.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds configuration properties (from YAML adapter sections) to target.
// The target struct uses `yaml` tags; numbers and booleans given as strings are converted.
func BindProperties(props map[string]interface{}, target interface{}) error {
	if len(props) == 0 {
		return nil
	}
	return decode(props, target, "yaml")
}

// Bind decodes a JSON-shaped value (a remote object or one of its sub-trees) into target.
// The target struct uses `json` tags. Unknown keys are ignored.
func Bind(input interface{}, target interface{}) error {
	if input == nil {
		return nil
	}
	return decode(input, target, "json")
}

func decode(input interface{}, target interface{}, tagName string) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          tagName,
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}
