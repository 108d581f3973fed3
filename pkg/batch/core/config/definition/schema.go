package definition

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "cirrus-batch-definition.schema.json"

var (
	compiledSchema *jsonschema.Schema
	compileErr     error
	compileOnce    sync.Once
)

func definitionSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = jsonschema.CompileString(schemaURL, schemaJSON)
	})
	return compiledSchema, compileErr
}

// validateSchema checks the decoded document against the definition schema and
// returns one message per violated leaf, ordered by location.
func validateSchema(document interface{}) ([]string, error) {
	schema, err := definitionSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}

	// The validator expects JSON types, so YAML ints are normalized first.
	data, err := serialization.Marshal(document)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := serialization.Unmarshal(data, &normalized); err != nil {
		return nil, err
	}

	err = schema.Validate(normalized)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	messages := leafMessages(verr)
	sort.Strings(messages)
	return messages, nil
}

func leafMessages(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		location := verr.InstanceLocation
		if location == "" {
			location = "/"
		}
		return []string{fmt.Sprintf("%s: %s", location, verr.Message)}
	}
	var messages []string
	for _, cause := range verr.Causes {
		messages = append(messages, leafMessages(cause)...)
	}
	return messages
}
