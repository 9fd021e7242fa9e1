package instrument

import (
	"context"

	"github.com/camera-control/ccs/internal/tool"
)

// Controller is the mock detector controller.
type Controller struct {
	*tool.Base

	timingFile  string
	initialized bool
	resets      int
}

// NewController creates the controller tool.
func NewController() *Controller {
	c := &Controller{Base: tool.NewBase("controller", "detector controller")}

	c.Attribute(tool.Attr{Name: "timing_file", Kind: tool.KindString, Help: "waveform file loaded on initialize"},
		func() (interface{}, error) { return c.timingFile, nil },
		func(v interface{}) error {
			c.timingFile = v.(string)
			return nil
		})
	c.Attribute(tool.Attr{Name: "initialized", Kind: tool.KindBool},
		func() (interface{}, error) { return c.initialized, nil }, nil)
	c.Attribute(tool.Attr{Name: "resets", Kind: tool.KindInt, Help: "number of resets since start"},
		func() (interface{}, error) { return c.resets, nil }, nil)

	c.Method(tool.Method{Name: "initialize", Mutating: true, Help: "initialize the controller"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			c.initialized = true
			return nil, nil
		})
	c.Method(tool.Method{Name: "reset", Mutating: true, Help: "reset the controller"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			c.resets++
			c.initialized = true
			return nil, nil
		})
	return c
}
