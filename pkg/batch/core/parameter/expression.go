package parameter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	port "github.com/tigerroll/cirrusbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/cirrusbatch/pkg/batch/support/util/serialization"
)

// resultAttribute is the only key of an expression level that is not a query variable.
const resultAttribute = "result"

// evaluate runs one level of a query expression. The single query variable is
// bound to the objects its query returns; a nested result evaluates the next
// level with the variables bound so far, a string result is rendered with them.
func (r *Resolver) evaluate(ctx context.Context, expression map[string]interface{}, vars map[string]interface{}) (string, error) {
	var variables []string
	for name := range expression {
		if name != resultAttribute {
			variables = append(variables, name)
		}
	}
	sort.Strings(variables)
	switch len(variables) {
	case 0:
		return "", fmt.Errorf("parameter expression does not contain a query variable")
	case 1:
	default:
		return "", fmt.Errorf("parameter expression should contain only one query variable, found: %s", strings.Join(variables, ", "))
	}

	name := variables[0]
	variable, ok := expression[name].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%s must be an object holding 'query' and 'result'", name)
	}
	query, ok := variable["query"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%s.query attribute was not found", name)
	}
	result, ok := variable[resultAttribute]
	if !ok || result == nil {
		return "", fmt.Errorf("%s.result attribute was not found", name)
	}

	restPath := stringAttr(query, "restPath")
	if restPath == "" {
		return "", fmt.Errorf("%s.query.restPath attribute was not found", name)
	}
	repo := r.repos.Repository(restPath)
	if repo == nil {
		return "", fmt.Errorf("%s.query.restPath '%s' is not supported", name, restPath)
	}

	value, err := r.runQuery(ctx, name, repo, query, vars)
	if err != nil {
		return "", err
	}

	if vars == nil {
		vars = make(map[string]interface{})
	}
	if _, dup := vars[name]; dup {
		return "", fmt.Errorf("duplicate query variable '%s' found", name)
	}
	vars[name] = value

	switch t := result.(type) {
	case map[string]interface{}:
		return r.evaluate(ctx, t, vars)
	case string:
		return renderTemplate(t, vars)
	default:
		// A non-string scalar result has nothing to substitute.
		data, err := serialization.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// runQuery fetches one object when the query names a key, a page of objects otherwise.
func (r *Resolver) runQuery(ctx context.Context, name string, repo port.ObjectRepository, query map[string]interface{}, vars map[string]interface{}) (interface{}, error) {
	fields := listAttr(query, "fields")

	if _, single := query["key"]; single {
		key := stringAttr(query, "key")
		if len(vars) > 0 && key != "" {
			var err error
			if key, err = renderTemplate(key, vars); err != nil {
				return nil, fmt.Errorf("%s.query.key: %w", name, err)
			}
		}
		obj, _, err := repo.GetByKey(ctx, key, fields...)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			return nil, fmt.Errorf("variable '%s' query returned empty result (%s key = '%s')", name, repo.RestPath(), key)
		}
		return map[string]interface{}(obj), nil
	}

	q := port.Query{
		Filter: stringAttr(query, "filter"),
		SortBy: strings.Join(listAttr(query, "sortBy"), ","),
		Fields: fields,
	}
	var err error
	if len(vars) > 0 && q.Filter != "" {
		if q.Filter, err = renderTemplate(q.Filter, vars); err != nil {
			return nil, fmt.Errorf("%s.query.filter: %w", name, err)
		}
	}
	if q.Start, err = intAttr(query, "start", 0); err != nil {
		return nil, fmt.Errorf("%s.query.start: %w", name, err)
	}
	if q.Limit, err = intAttr(query, "limit", port.DefaultQueryLimit); err != nil {
		return nil, fmt.Errorf("%s.query.limit: %w", name, err)
	}

	objects, err := repo.GetByFilter(ctx, q)
	if err != nil {
		return nil, err
	}
	list := make([]interface{}, len(objects))
	for i, obj := range objects {
		list[i] = map[string]interface{}(obj)
	}
	return list, nil
}

func stringAttr(m map[string]interface{}, name string) string {
	switch v := m[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// listAttr reads a comma separated list, or a JSON array of strings.
func listAttr(m map[string]interface{}, name string) []string {
	var items []string
	switch v := m[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		items = strings.Split(v, ",")
	case []interface{}:
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
	default:
		return nil
	}
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intAttr(m map[string]interface{}, name string, def int) (int, error) {
	switch v := m[name].(type) {
	case nil:
		return def, nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("'%s' is not an integer", v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected value %v", v)
	}
}
