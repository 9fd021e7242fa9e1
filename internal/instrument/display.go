package instrument

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/tool"
)

// Display is the mock image display. initialize simulates connecting to the
// display server and is run in the background at startup.
type Display struct {
	*tool.Base

	logger      *zap.Logger
	initDelay   time.Duration
	initialized bool
	lastImage   string
}

// NewDisplay creates the display tool.
func NewDisplay(cfg config.DisplayConfig, logger *zap.Logger) *Display {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Display{
		Base:      tool.NewBase("display", "image display"),
		logger:    logger.Named("display"),
		initDelay: time.Duration(cfg.InitDelayMs) * time.Millisecond,
	}

	d.Attribute(tool.Attr{Name: "initialized", Kind: tool.KindBool},
		func() (interface{}, error) { return d.initialized, nil }, nil)
	d.Attribute(tool.Attr{Name: "last_image", Kind: tool.KindString},
		func() (interface{}, error) { return d.lastImage, nil }, nil)

	d.Method(tool.Method{Name: "initialize", Mutating: true, Help: "connect to the display"}, d.initialize)
	d.Method(tool.Method{
		Name:     "display",
		Params:   []tool.Param{{Name: "image", Kind: tool.KindString}},
		Mutating: true,
		Help:     "show an image",
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		if !d.initialized {
			return nil, tool.Errorf(tool.ErrToolOperation, "display.display", "display not initialized")
		}
		d.lastImage = args[0].(string)
		return nil, nil
	})
	return d
}

func (d *Display) initialize(ctx context.Context, args []interface{}) (interface{}, error) {
	if d.initDelay > 0 {
		timer := time.NewTimer(d.initDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, tool.NewError(tool.ErrToolOperation, "display.initialize", ctx.Err())
		case <-timer.C:
		}
	}
	d.initialized = true
	d.logger.Info("Display initialized")
	return nil, nil
}
