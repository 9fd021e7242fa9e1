package instrument

import (
	"context"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/tool"
)

// dewarOffset is how far the mock dewar sits below the control point.
const dewarOffset = -20.0

// Tempcon is the mock temperature controller. The mock CCD always sits at
// the control temperature.
type Tempcon struct {
	*tool.Base

	controlTemperature float64
	correction         float64
}

// NewTempcon creates the temperature controller tool.
func NewTempcon(cfg config.TempconConfig) *Tempcon {
	tc := &Tempcon{
		Base:               tool.NewBase("tempcon", "temperature controller"),
		controlTemperature: cfg.ControlTemperature,
	}

	tc.Attribute(tool.Attr{Name: "control_temperature", Kind: tool.KindFloat, Help: "CCD set point in C"},
		func() (interface{}, error) { return tc.controlTemperature, nil },
		func(v interface{}) error {
			tc.controlTemperature = v.(float64)
			return nil
		})
	tc.Attribute(tool.Attr{Name: "temperature_correction", Kind: tool.KindFloat, Help: "offset added to readings"},
		func() (interface{}, error) { return tc.correction, nil },
		func(v interface{}) error {
			tc.correction = v.(float64)
			return nil
		})

	tc.Method(tool.Method{Name: "get_temperatures", Help: "return camera and dewar temperatures"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			ccd := tc.controlTemperature + tc.correction
			return []float64{ccd, ccd + dewarOffset}, nil
		})
	tc.Method(tool.Method{Name: "get_control_temperature"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return tc.controlTemperature, nil
		})
	tc.Method(tool.Method{
		Name:     "set_control_temperature",
		Params:   []tool.Param{{Name: "temperature", Kind: tool.KindFloat}},
		Mutating: true,
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		tc.controlTemperature = args[0].(float64)
		return nil, nil
	})
	return tc
}
