package toolhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"go.uber.org/multierr"
)

// ApplyDefaults returns a copy of args with schema defaults filled in for absent
// parameters. Explicit values are never replaced, so applying it twice is a no-op.
func ApplyDefaults(schema ports.ToolSchema, args map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+len(schema.Parameters))
	for k, v := range args {
		merged[k] = v
	}
	for name, spec := range schema.Parameters {
		if _, present := merged[name]; present || !spec.HasDefault {
			continue
		}
		merged[name] = spec.Default
	}
	return merged
}

// Validate checks args against schema and reports every violation at once.
func Validate(schema ports.ToolSchema, args map[string]any) error {
	var errs error

	for _, name := range requiredNames(schema) {
		if _, ok := args[name]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("Missing required field: %s", name))
		}
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, declared := schema.Parameters[name]; !declared {
			errs = multierr.Append(errs, fmt.Errorf("Unknown field: %s", name))
		}
	}

	for _, name := range names {
		spec, declared := schema.Parameters[name]
		if !declared {
			continue
		}
		errs = multierr.Append(errs, checkValue(name, spec, args[name]))
	}

	if errs == nil {
		return nil
	}
	violations := multierr.Errors(errs)
	msgs := make([]string, len(violations))
	for i, e := range violations {
		msgs[i] = e.Error()
	}
	return &ports.ValidationError{ToolName: schema.Name, Errors: msgs}
}

// requiredNames merges the schema-level list with per-parameter flags, in declared order.
func requiredNames(schema ports.ToolSchema) []string {
	seen := make(map[string]bool, len(schema.Required))
	out := make([]string, 0, len(schema.Required))
	for _, name := range schema.Required {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var extra []string
	for name, spec := range schema.Parameters {
		if spec.Required && !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func checkValue(name string, spec ports.ParamSpec, value any) error {
	if value == nil && spec.Nullable {
		return nil
	}
	if spec.Type != "" && !matchesType(value, spec.Type) {
		return fmt.Errorf("Wrong type for field %s: expected %s", name, spec.Type)
	}

	var errs error
	if n, ok := toFloat(value); ok {
		if spec.Minimum != nil && n < *spec.Minimum {
			errs = multierr.Append(errs, fmt.Errorf("Out of range for field %s: %s is below minimum %s", name, formatNumber(n), formatNumber(*spec.Minimum)))
		}
		if spec.Maximum != nil && n > *spec.Maximum {
			errs = multierr.Append(errs, fmt.Errorf("Out of range for field %s: %s is above maximum %s", name, formatNumber(n), formatNumber(*spec.Maximum)))
		}
	}
	if len(spec.Enum) > 0 && !inEnum(value, spec.Enum) {
		errs = multierr.Append(errs, fmt.Errorf("Invalid value for field %s: must be one of %v", name, spec.Enum))
	}
	return errs
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		n, ok := toFloat(value)
		return ok && !math.IsInf(n, 0) && math.Trunc(n) == n
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		if value == nil {
			return false
		}
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case "null":
		return value == nil
	default:
		// unknown declared types are not enforced
		return true
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	}
	return 0, false
}

func inEnum(value any, enum []any) bool {
	vn, vIsNum := toFloat(value)
	for _, candidate := range enum {
		if cn, ok := toFloat(candidate); ok && vIsNum {
			if cn == vn {
				return true
			}
			continue
		}
		if reflect.DeepEqual(candidate, value) {
			return true
		}
	}
	return false
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// IsValidationError reports whether err carries argument violations.
func IsValidationError(err error) bool {
	var v *ports.ValidationError
	return errors.As(err, &v)
}
