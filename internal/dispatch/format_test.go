package dispatch

import "testing"

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"nil", nil, ""},
		{"whole float", -100.0, "-100.0"},
		{"fraction", 21.25, "21.25"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"string", "MEF", "MEF"},
		{"float list", []float64{-90, 21.5}, "-90.0 21.5"},
		{"mixed list", []interface{}{"u", 2, 0.5}, "u 2 0.5"},
		{"map", map[string]interface{}{"b": 2, "a": "x"}, "a=x b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestReplyLine(t *testing.T) {
	tests := []struct {
		name    string
		reply   Reply
		verbose bool
		want    string
	}{
		{"bare ok", Reply{Status: StatusOK}, false, "OK"},
		{"ok value", Reply{Status: StatusOK, Data: -100.0}, false, "OK -100.0"},
		{"ok empty string", Reply{Status: StatusOK, Data: ""}, false, "OK"},
		{"verbose json", Reply{Status: StatusOK, Data: map[string]interface{}{"a": 1}}, true, `OK {"a":1}`},
		{"error", Reply{Status: StatusError, Code: "UnknownToolError", Message: "bogus"}, false, "ERROR UnknownToolError bogus"},
		{"error multiline", Reply{Status: StatusError, Code: "ToolOperationError", Message: "a\nb"}, false, "ERROR ToolOperationError a b"},
		{"error no message", Reply{Status: StatusError, Code: "ArgumentError"}, false, "ERROR ArgumentError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reply.Line(tt.verbose); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
