package tool

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the declared type of an attribute or method parameter.
type Kind string

const (
	KindAny    Kind = "any"
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Convert coerces v to the kind. Strings from the line protocol are parsed,
// typed values from JSON or TOML are checked and normalized.
func (k Kind) Convert(v interface{}) (interface{}, error) {
	switch k {
	case KindAny, "":
		return v, nil
	case KindFloat:
		return toFloat(v)
	case KindInt:
		return toInt(v)
	case KindString:
		return toString(v)
	case KindBool:
		return toBool(v)
	case KindList:
		return toList(v)
	case KindMap:
		if m, ok := v.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected map, got %T", v)
	default:
		return nil, fmt.Errorf("unknown kind %q", k)
	}
}

// toFloat converts v to a finite float. NaN and infinities cannot be
// rendered as JSON and are rejected.
func toFloat(v interface{}) (float64, error) {
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite float %v", v)
	}
	return f, nil
}

func parseFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected float, got %T", v)
	}
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case float64:
		if math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("expected integer, got %v", x)
		}
		return int(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
		// Accept "2.0" style input for integer parameters
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, fmt.Errorf("invalid integer %q", x)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case nil:
		return "", nil
	case []interface{}, map[string]interface{}:
		return "", fmt.Errorf("expected string, got %T", v)
	default:
		return fmt.Sprint(x), nil
	}
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", x)
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func toList(v interface{}) ([]interface{}, error) {
	switch x := v.(type) {
	case []interface{}:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		fields := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		out := make([]interface{}, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list, got %T", v)
}

// Floats converts a list value into float64 elements.
func Floats(v interface{}) ([]float64, error) {
	list, err := toList(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, err := toFloat(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
