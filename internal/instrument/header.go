package instrument

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/tool"
)

// Keyword is one header keyword.
type Keyword struct {
	Name    string      `json:"name"`
	Value   interface{} `json:"value"`
	Comment string      `json:"comment,omitempty"`
}

// String renders the keyword as a header card.
func (k Keyword) String() string {
	s := fmt.Sprintf("%s = %v", k.Name, k.Value)
	if k.Comment != "" {
		s += " / " + k.Comment
	}
	return s
}

// Header is the system header tool. Keywords keep insertion order.
type Header struct {
	*tool.Base

	title      string
	keywords   []Keyword
	index      map[string]int
	configured []config.KeywordConfig
}

// NewHeader creates the system header tool seeded with the configured
// keywords.
func NewHeader(cfg config.HeaderConfig) *Header {
	h := &Header{
		Base:       tool.NewBase("system", "system header keywords"),
		title:      cfg.Title,
		index:      make(map[string]int),
		configured: cfg.Keywords,
	}
	h.applyConfigured()

	h.Attribute(tool.Attr{Name: "title", Kind: tool.KindString},
		func() (interface{}, error) { return h.title, nil },
		func(v interface{}) error {
			h.title = v.(string)
			return nil
		})

	h.Method(tool.Method{
		Name: "set_keyword",
		Params: []tool.Param{
			{Name: "name", Kind: tool.KindString},
			{Name: "value", Kind: tool.KindAny},
			{Name: "comment", Kind: tool.KindString, Optional: true},
		},
		Mutating: true,
		Help:     "add or replace a keyword",
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		var comment string
		if len(args) > 2 {
			comment = args[2].(string)
		}
		if err := validKeyword(args[0].(string)); err != nil {
			return nil, tool.NewError(tool.ErrArgument, "system.set_keyword", err)
		}
		h.SetKeyword(args[0].(string), args[1], comment)
		return nil, nil
	})
	h.Method(tool.Method{
		Name:   "get_keyword",
		Params: []tool.Param{{Name: "name", Kind: tool.KindString}},
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		kw, ok := h.Keyword(args[0].(string))
		if !ok {
			return nil, tool.Errorf(tool.ErrArgument, "system.get_keyword", "keyword %s not found", args[0])
		}
		return kw.Value, nil
	})
	h.Method(tool.Method{Name: "get_keywords", Help: "keyword names in header order"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			names := make([]string, len(h.keywords))
			for i, kw := range h.keywords {
				names[i] = kw.Name
			}
			return names, nil
		})
	h.Method(tool.Method{Name: "get_header", Help: "every keyword as a header card"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			cards := make([]string, len(h.keywords))
			for i, kw := range h.keywords {
				cards[i] = kw.String()
			}
			return cards, nil
		})
	h.Method(tool.Method{
		Name:     "delete_keyword",
		Params:   []tool.Param{{Name: "name", Kind: tool.KindString}},
		Mutating: true,
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		if !h.DeleteKeyword(args[0].(string)) {
			return nil, tool.Errorf(tool.ErrArgument, "system.delete_keyword", "keyword %s not found", args[0])
		}
		return nil, nil
	})
	return h
}

// SetKeyword adds or replaces a keyword. Names are case-insensitive.
func (h *Header) SetKeyword(name string, value interface{}, comment string) {
	name = strings.ToUpper(name)
	kw := Keyword{Name: name, Value: value, Comment: comment}
	if i, ok := h.index[name]; ok {
		h.keywords[i] = kw
		return
	}
	h.index[name] = len(h.keywords)
	h.keywords = append(h.keywords, kw)
}

// Keyword looks up a keyword by name.
func (h *Header) Keyword(name string) (Keyword, bool) {
	i, ok := h.index[strings.ToUpper(name)]
	if !ok {
		return Keyword{}, false
	}
	return h.keywords[i], true
}

// Keywords returns a copy of the keywords in header order.
func (h *Header) Keywords() []Keyword {
	return append([]Keyword(nil), h.keywords...)
}

// DeleteKeyword removes a keyword and reports whether it existed.
func (h *Header) DeleteKeyword(name string) bool {
	name = strings.ToUpper(name)
	i, ok := h.index[name]
	if !ok {
		return false
	}
	h.keywords = append(h.keywords[:i], h.keywords[i+1:]...)
	delete(h.index, name)
	for j := i; j < len(h.keywords); j++ {
		h.index[h.keywords[j].Name] = j
	}
	return true
}

// LoadTemplate reads keywords from a template file, one
// "KEYWORD value / comment" card per line. Blank lines and lines starting
// with '#' are ignored. A missing file is reported with os.ErrNotExist.
// Configured keywords are reapplied afterwards and win over template cards.
func (h *Header) LoadTemplate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kw, err := parseCard(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		h.SetKeyword(kw.Name, kw.Value, kw.Comment)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	h.applyConfigured()
	return nil
}

func (h *Header) applyConfigured() {
	for _, kw := range h.configured {
		h.SetKeyword(kw.Name, kw.Value, kw.Comment)
	}
}

// parseCard splits a template line into name, value and comment. A value in
// single quotes may contain spaces and slashes.
func parseCard(line string) (Keyword, error) {
	name, rest, _ := strings.Cut(line, " ")
	if err := validKeyword(name); err != nil {
		return Keyword{}, err
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "= ")

	var value, comment string
	if strings.HasPrefix(rest, "'") {
		end := strings.Index(rest[1:], "'")
		if end < 0 {
			return Keyword{}, fmt.Errorf("unterminated quote in %s", name)
		}
		value = rest[1 : end+1]
		rest = strings.TrimSpace(rest[end+2:])
		if c, ok := strings.CutPrefix(rest, "/"); ok {
			comment = strings.TrimSpace(c)
		}
	} else {
		v, c, _ := strings.Cut(rest, "/")
		value = strings.TrimSpace(v)
		comment = strings.TrimSpace(c)
	}
	return Keyword{Name: strings.ToUpper(name), Value: value, Comment: comment}, nil
}

func validKeyword(name string) error {
	if name == "" {
		return fmt.Errorf("empty keyword name")
	}
	if strings.ContainsAny(name, " \t=/'") {
		return fmt.Errorf("invalid keyword name %q", name)
	}
	return nil
}
