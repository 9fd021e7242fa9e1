package instrument

import (
	"context"
	"math"

	"github.com/camera-control/ccs/internal/tool"
)

// Telescope is the mock telescope. Positions are decimal degrees.
type Telescope struct {
	*tool.Base

	ra       float64
	dec      float64
	tracking bool
}

// NewTelescope creates the telescope tool.
func NewTelescope() *Telescope {
	tel := &Telescope{Base: tool.NewBase("telescope", "telescope pointing")}

	tel.Attribute(tool.Attr{Name: "ra", Kind: tool.KindFloat, Help: "right ascension in degrees"},
		func() (interface{}, error) { return tel.ra, nil }, nil)
	tel.Attribute(tool.Attr{Name: "dec", Kind: tool.KindFloat, Help: "declination in degrees"},
		func() (interface{}, error) { return tel.dec, nil }, nil)
	tel.Attribute(tool.Attr{Name: "tracking", Kind: tool.KindBool},
		func() (interface{}, error) { return tel.tracking, nil },
		func(v interface{}) error {
			tel.tracking = v.(bool)
			return nil
		})

	tel.Method(tool.Method{Name: "get_position", Help: "return ra and dec"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return []float64{tel.ra, tel.dec}, nil
		})
	tel.Method(tool.Method{
		Name:     "move",
		Params:   []tool.Param{{Name: "ra", Kind: tool.KindFloat}, {Name: "dec", Kind: tool.KindFloat}},
		Mutating: true,
		Help:     "slew to an absolute position",
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		return nil, tel.moveTo(args[0].(float64), args[1].(float64))
	})
	tel.Method(tool.Method{
		Name:     "offset",
		Params:   []tool.Param{{Name: "ra_arcsec", Kind: tool.KindFloat}, {Name: "dec_arcsec", Kind: tool.KindFloat}},
		Mutating: true,
		Help:     "offset from the current position",
	}, func(ctx context.Context, args []interface{}) (interface{}, error) {
		return nil, tel.moveTo(tel.ra+args[0].(float64)/3600, tel.dec+args[1].(float64)/3600)
	})
	return tel
}

func (tel *Telescope) moveTo(ra, dec float64) error {
	if math.IsNaN(ra) || math.IsInf(ra, 0) {
		return tool.Errorf(tool.ErrArgument, "telescope.move", "right ascension %v is not finite", ra)
	}
	if math.IsNaN(dec) || dec < -90 || dec > 90 {
		return tool.Errorf(tool.ErrArgument, "telescope.move", "declination %.4f out of range", dec)
	}
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	// -1e-17 + 360 rounds to 360
	if ra >= 360 {
		ra = 0
	}
	tel.ra, tel.dec = ra, dec
	return nil
}
