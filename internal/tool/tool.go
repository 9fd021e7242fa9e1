package tool

import "context"

// Tool is a named, stateful object exposed for remote control.
//
// Implementations do not lock internally. Callers serialize access per tool:
// Set and mutating methods run exclusively, Get and the remaining methods
// may run concurrently with each other.
type Tool interface {
	Name() string
	Describe() Description
	Get(attr string) (interface{}, error)
	Set(attr string, value interface{}) error
	Invoke(ctx context.Context, method string, args []interface{}) (interface{}, error)
}

// IsMutating reports whether calling member on t needs exclusive access.
// Unknown members are treated as mutating.
func IsMutating(t Tool, member string) bool {
	desc := t.Describe()
	if _, ok := desc.Attr(member); ok {
		return false
	}
	if m, ok := desc.Method(member); ok {
		return m.Mutating
	}
	return true
}
