package tool

// Attr describes a readable, and unless ReadOnly writable, tool attribute.
type Attr struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	ReadOnly bool   `json:"readOnly,omitempty"`
	Help     string `json:"help,omitempty"`
}

// Param describes one positional method parameter.
type Param struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
}

// Method describes an invocable tool operation. Mutating methods are
// serialized against every other call on the same tool.
type Method struct {
	Name     string  `json:"name"`
	Params   []Param `json:"params,omitempty"`
	Mutating bool    `json:"mutating,omitempty"`
	Help     string  `json:"help,omitempty"`
}

// Description lists a tool's attributes and methods in declaration order.
type Description struct {
	Name    string   `json:"name"`
	Help    string   `json:"help,omitempty"`
	Attrs   []Attr   `json:"attributes"`
	Methods []Method `json:"methods"`
}

// Attr looks up an attribute by name.
func (d Description) Attr(name string) (Attr, bool) {
	for _, a := range d.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// Method looks up a method by name.
func (d Description) Method(name string) (Method, bool) {
	for _, m := range d.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Arity returns the minimum and maximum number of arguments m accepts.
func (m Method) Arity() (required, total int) {
	for _, p := range m.Params {
		if !p.Optional {
			required++
		}
	}
	return required, len(m.Params)
}
