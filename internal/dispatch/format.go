package dispatch

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Reply statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Reply is the outcome of one dispatched command. Every command produces
// exactly one Reply.
type Reply struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK reports whether the command succeeded.
func (r Reply) OK() bool {
	return r.Status == StatusOK
}

// Line renders the reply in line-protocol form without the terminator.
// Verbose sessions get OK data as JSON instead of the compact rendering.
func (r Reply) Line(verbose bool) string {
	if r.Status != StatusOK {
		line := StatusError + " " + r.Code
		if r.Message != "" {
			line += " " + singleLine(r.Message)
		}
		return line
	}
	if r.Data == nil {
		return StatusOK
	}
	if verbose {
		if b, err := json.Marshal(r.Data); err == nil {
			return StatusOK + " " + string(b)
		}
	}
	text := FormatValue(r.Data)
	if text == "" {
		return StatusOK
	}
	return StatusOK + " " + singleLine(text)
}

// FormatValue renders a value compactly for the line protocol. Floats always
// carry a decimal point, lists are space separated, maps become sorted
// key=value pairs.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = FormatValue(rv.Index(i).Interface())
		}
		return strings.Join(parts, " ")
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		values := make(map[string]string, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			values[k] = FormatValue(iter.Value().Interface())
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + values[k]
		}
		return strings.Join(parts, " ")
	case reflect.Pointer:
		if rv.IsNil() {
			return ""
		}
		return FormatValue(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'f', -1, bits)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func singleLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
