package dispatch

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/camera-control/ccs/internal/tool"
)

// Op is the kind of access a command performs.
type Op int

const (
	// OpMember reads an attribute, or calls a method without arguments when
	// the member is not an attribute.
	OpMember Op = iota
	// OpGet reads an attribute.
	OpGet
	// OpSet writes an attribute.
	OpSet
	// OpCall invokes a method.
	OpCall
)

// Command is one parsed request against a tool member.
type Command struct {
	Tool   string
	Member string
	Op     Op
	Args   []interface{} // OpCall arguments
	Value  interface{}   // OpSet value
	Line   string        // Original text, empty for commands built in code
}

// String renders the command in line-protocol form.
func (c Command) String() string {
	if c.Line != "" {
		return c.Line
	}
	target := c.Tool + "." + c.Member
	switch c.Op {
	case OpSet:
		return target + "=" + FormatValue(c.Value)
	case OpCall:
		if len(c.Args) == 0 {
			return target + "()"
		}
		parts := make([]string, len(c.Args))
		for i, a := range c.Args {
			parts[i] = quoteArg(FormatValue(a))
		}
		return target + " " + strings.Join(parts, " ")
	default:
		return target
	}
}

// Parse reads one command line. Accepted shapes:
//
//	tool.method a b "c d"
//	tool.method(a, b, "c d")
//	tool.attr
//	tool.attr=value
//	tool.attr = value
//
// Space separated arguments follow shell rules: a word starting with '#'
// begins a comment that runs to the end of the line, so a literal such as
// "#5" must be quoted. Parenthesized arguments have no comments.
func Parse(line string) (Command, error) {
	text := strings.TrimSpace(line)
	cmd := Command{Line: text}
	if text == "" {
		return cmd, tool.Errorf(tool.ErrArgument, "", "empty command")
	}

	end := strings.IndexAny(text, " \t(=")
	if end < 0 {
		end = len(text)
	}
	target, rest := text[:end], strings.TrimSpace(text[end:])

	dot := strings.IndexByte(target, '.')
	if dot < 0 {
		return cmd, tool.Errorf(tool.ErrArgument, target, "expected tool.member")
	}
	cmd.Tool, cmd.Member = target[:dot], target[dot+1:]
	if cmd.Tool == "" || cmd.Member == "" || strings.Contains(cmd.Member, ".") {
		return cmd, tool.Errorf(tool.ErrArgument, target, "expected tool.member")
	}

	switch {
	case rest == "":
		cmd.Op = OpMember
	case strings.HasPrefix(rest, "="):
		value, err := parseValue(strings.TrimSpace(rest[1:]))
		if err != nil {
			return cmd, tool.NewError(tool.ErrArgument, target, err)
		}
		cmd.Op, cmd.Value = OpSet, value
	case strings.HasPrefix(rest, "("):
		args, err := parseParenArgs(rest)
		if err != nil {
			return cmd, tool.NewError(tool.ErrArgument, target, err)
		}
		cmd.Op, cmd.Args = OpCall, args
	default:
		words, err := shlex.Split(rest)
		if err != nil {
			return cmd, tool.NewError(tool.ErrArgument, target, err)
		}
		cmd.Op, cmd.Args = OpCall, toArgs(words)
	}
	return cmd, nil
}

// parseValue tokenizes the right-hand side of an assignment. Several words
// form a list value.
func parseValue(text string) (interface{}, error) {
	words, err := shlex.Split(text)
	if err != nil {
		return nil, err
	}
	switch len(words) {
	case 0:
		return nil, fmt.Errorf("missing value")
	case 1:
		return words[0], nil
	default:
		return toArgs(words), nil
	}
}

func parseParenArgs(text string) ([]interface{}, error) {
	if !strings.HasSuffix(text, ")") {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	inner := strings.TrimSpace(text[1 : len(text)-1])
	if inner == "" {
		return []interface{}{}, nil
	}

	r := csv.NewReader(strings.NewReader(inner))
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid argument list: %w", err)
	}

	args := make([]interface{}, len(fields))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if len(f) >= 2 && f[0] == '\'' && f[len(f)-1] == '\'' {
			f = f[1 : len(f)-1]
		}
		args[i] = f
	}
	return args, nil
}

func toArgs(words []string) []interface{} {
	args := make([]interface{}, len(words))
	for i, w := range words {
		args[i] = w
	}
	return args
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"'") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
