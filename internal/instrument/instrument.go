package instrument

import (
	"context"
	"slices"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/tool"
)

// Instrument is the mock filter wheel and focus stage.
type Instrument struct {
	*tool.Base

	filters []string
	filter  string
	focus   float64
}

// NewInstrument creates the instrument tool. The first filter is selected.
func NewInstrument(cfg config.InstrumentConfig) *Instrument {
	in := &Instrument{
		Base:    tool.NewBase("instrument", "filter wheel and focus"),
		filters: slices.Clone(cfg.Filters),
	}
	if len(in.filters) > 0 {
		in.filter = in.filters[0]
	}

	in.Attribute(tool.Attr{Name: "filters", Kind: tool.KindList},
		func() (interface{}, error) { return slices.Clone(in.filters), nil }, nil)
	in.Attribute(tool.Attr{Name: "filter", Kind: tool.KindString, Help: "selected filter"},
		func() (interface{}, error) { return in.filter, nil },
		func(v interface{}) error { return in.setFilter(v.(string)) })
	in.Attribute(tool.Attr{Name: "focus", Kind: tool.KindFloat, Help: "focus position in microns"},
		func() (interface{}, error) { return in.focus, nil },
		func(v interface{}) error {
			in.focus = v.(float64)
			return nil
		})

	in.Method(tool.Method{Name: "get_filter"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return in.filter, nil
		})
	in.Method(tool.Method{Name: "get_filters"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return slices.Clone(in.filters), nil
		})
	in.Method(tool.Method{
		Name:     "set_filter",
		Params:   []tool.Param{{Name: "filter", Kind: tool.KindString}},
		Mutating: true,
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		return nil, in.setFilter(args[0].(string))
	})
	in.Method(tool.Method{
		Name:     "set_focus",
		Params:   []tool.Param{{Name: "position", Kind: tool.KindFloat}},
		Mutating: true,
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		in.focus = args[0].(float64)
		return nil, nil
	})
	return in
}

func (in *Instrument) setFilter(name string) error {
	if !slices.Contains(in.filters, name) {
		return tool.Errorf(tool.ErrArgument, "instrument.filter", "unknown filter %q", name)
	}
	in.filter = name
	return nil
}
