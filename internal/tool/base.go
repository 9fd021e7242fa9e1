package tool

import (
	"context"
	"fmt"
)

// Getter reads an attribute value.
type Getter func() (interface{}, error)

// Setter writes an already converted attribute value.
type Setter func(value interface{}) error

// Handler runs a method with arguments already converted to the declared kinds.
type Handler func(ctx context.Context, args []interface{}) (interface{}, error)

// FaultAttr is the attribute every Base-built tool exposes for fault injection.
const FaultAttr = "fault"

// Base is a table-driven Tool. Concrete tools embed it and register their
// attributes and methods from their constructor.
type Base struct {
	desc    Description
	getters map[string]Getter
	setters map[string]Setter
	methods map[string]Handler
	fault   string
}

// NewBase creates a Base for the named tool with the fault attribute registered.
func NewBase(name, help string) *Base {
	b := &Base{
		desc:    Description{Name: name, Help: help},
		getters: make(map[string]Getter),
		setters: make(map[string]Setter),
		methods: make(map[string]Handler),
	}
	b.Attribute(Attr{Name: FaultAttr, Kind: KindString, Help: "when set, mutating methods fail with this message"},
		func() (interface{}, error) { return b.fault, nil },
		func(v interface{}) error {
			b.fault = v.(string)
			return nil
		})
	return b
}

// Attribute registers an attribute. A nil setter makes it read-only.
func (b *Base) Attribute(attr Attr, get Getter, set Setter) {
	if _, exists := b.getters[attr.Name]; exists {
		panic(fmt.Sprintf("tool %s: attribute %s registered twice", b.desc.Name, attr.Name))
	}
	if set == nil {
		attr.ReadOnly = true
	}
	b.desc.Attrs = append(b.desc.Attrs, attr)
	b.getters[attr.Name] = get
	if set != nil {
		b.setters[attr.Name] = set
	}
}

// Method registers a method.
func (b *Base) Method(m Method, fn Handler) {
	if _, exists := b.methods[m.Name]; exists {
		panic(fmt.Sprintf("tool %s: method %s registered twice", b.desc.Name, m.Name))
	}
	b.desc.Methods = append(b.desc.Methods, m)
	b.methods[m.Name] = fn
}

// Name returns the tool name.
func (b *Base) Name() string {
	return b.desc.Name
}

// Describe returns a copy of the tool description.
func (b *Base) Describe() Description {
	d := b.desc
	d.Attrs = append([]Attr(nil), b.desc.Attrs...)
	d.Methods = append([]Method(nil), b.desc.Methods...)
	return d
}

// Get reads an attribute.
func (b *Base) Get(attr string) (interface{}, error) {
	get, ok := b.getters[attr]
	if !ok {
		return nil, NewError(ErrUnknownMethod, b.desc.Name+"."+attr, nil)
	}
	return get()
}

// Set converts value to the attribute kind and writes it.
func (b *Base) Set(attr string, value interface{}) error {
	a, ok := b.desc.Attr(attr)
	if !ok {
		return NewError(ErrUnknownMethod, b.desc.Name+"."+attr, nil)
	}
	if a.ReadOnly {
		return Errorf(ErrArgument, b.desc.Name+"."+attr, "attribute is read-only")
	}
	converted, err := a.Kind.Convert(value)
	if err != nil {
		return NewError(ErrArgument, b.desc.Name+"."+attr, err)
	}
	return b.setters[attr](converted)
}

// Invoke checks arity, converts arguments and runs the method.
func (b *Base) Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	m, ok := b.desc.Method(method)
	if !ok {
		return nil, NewError(ErrUnknownMethod, b.desc.Name+"."+method, nil)
	}
	subject := b.desc.Name + "." + method

	lo, hi := m.Arity()
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return nil, Errorf(ErrArgument, subject, "expected %d arguments, got %d", lo, len(args))
		}
		return nil, Errorf(ErrArgument, subject, "expected %d to %d arguments, got %d", lo, hi, len(args))
	}

	converted := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := m.Params[i].Kind.Convert(arg)
		if err != nil {
			return nil, Errorf(ErrArgument, subject, "%s: %v", m.Params[i].Name, err)
		}
		converted[i] = v
	}

	if m.Mutating && b.fault != "" {
		return nil, Errorf(ErrToolOperation, subject, "%s", b.fault)
	}
	return b.methods[method](ctx, converted)
}

// Fault returns the injected fault message, empty when healthy.
func (b *Base) Fault() string {
	return b.fault
}
