package instrument

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/config"
	"github.com/camera-control/ccs/internal/tool"
)

// Exposure states reported by exposure_flag.
const (
	FlagIdle    = "idle"
	FlagAborted = "aborted"
)

// ImageTypes lists the image types expose accepts.
var ImageTypes = []string{"zero", "object", "dark", "flat", "focus", "test"}

// Exposure is the mock exposure tool. An exposure completes immediately; it
// only advances the image counter and remembers what was requested.
type Exposure struct {
	*tool.Base

	logger *zap.Logger

	filetype     string
	displayImage bool
	exposureTime float64
	imageType    string
	imageTitle   string
	imageNumber  int
	root         string
	folder       string
	flag         string
	lastFile     string

	detpars config.DetectorConfig
	roi     []int
}

// NewExposure creates the exposure tool. folder is where image names point.
func NewExposure(cfg config.ExposureConfig, folder string, logger *zap.Logger) (*Exposure, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exposure{
		Base:        tool.NewBase("exposure", "exposure sequencing"),
		logger:      logger.Named("exposure"),
		imageType:   "zero",
		imageNumber: 1,
		root:        "test.",
		folder:      folder,
		flag:        FlagIdle,
	}
	if err := e.setFiletype(cfg.Filetype); err != nil {
		return nil, err
	}
	e.displayImage = cfg.DisplayImage

	e.Attribute(tool.Attr{Name: "filetype", Kind: tool.KindString, Help: "one of " + strings.Join(config.Filetypes, ", ")},
		func() (interface{}, error) { return e.filetype, nil },
		func(v interface{}) error { return e.setFiletype(v.(string)) })
	e.Attribute(tool.Attr{Name: "display_image", Kind: tool.KindBool, Help: "send each image to the display"},
		func() (interface{}, error) { return e.displayImage, nil },
		func(v interface{}) error {
			e.displayImage = v.(bool)
			return nil
		})
	e.Attribute(tool.Attr{Name: "exposure_time", Kind: tool.KindFloat, Help: "seconds"},
		func() (interface{}, error) { return e.exposureTime, nil },
		func(v interface{}) error {
			et := v.(float64)
			if et < 0 {
				return tool.Errorf(tool.ErrArgument, "exposure.exposure_time", "must not be negative")
			}
			e.exposureTime = et
			return nil
		})
	e.Attribute(tool.Attr{Name: "image_type", Kind: tool.KindString},
		func() (interface{}, error) { return e.imageType, nil },
		func(v interface{}) error { return e.setImageType(v.(string)) })
	e.Attribute(tool.Attr{Name: "image_title", Kind: tool.KindString},
		func() (interface{}, error) { return e.imageTitle, nil },
		func(v interface{}) error {
			e.imageTitle = v.(string)
			return nil
		})
	e.Attribute(tool.Attr{Name: "image_number", Kind: tool.KindInt, Help: "sequence number of the next image"},
		func() (interface{}, error) { return e.imageNumber, nil },
		func(v interface{}) error {
			n := v.(int)
			if n < 0 {
				return tool.Errorf(tool.ErrArgument, "exposure.image_number", "must not be negative")
			}
			e.imageNumber = n
			return nil
		})
	e.Attribute(tool.Attr{Name: "root", Kind: tool.KindString, Help: "image file name prefix"},
		func() (interface{}, error) { return e.root, nil },
		func(v interface{}) error {
			e.root = v.(string)
			return nil
		})
	e.Attribute(tool.Attr{Name: "folder", Kind: tool.KindString},
		func() (interface{}, error) { return e.folder, nil },
		func(v interface{}) error {
			e.folder = v.(string)
			return nil
		})
	e.Attribute(tool.Attr{Name: "exposure_flag", Kind: tool.KindString},
		func() (interface{}, error) { return e.flag, nil }, nil)
	e.Attribute(tool.Attr{Name: "last_filename", Kind: tool.KindString},
		func() (interface{}, error) { return e.lastFile, nil }, nil)

	e.Method(tool.Method{
		Name: "expose",
		Params: []tool.Param{
			{Name: "exposure_time", Kind: tool.KindFloat, Optional: true},
			{Name: "image_type", Kind: tool.KindString, Optional: true},
			{Name: "image_title", Kind: tool.KindString, Optional: true},
		},
		Mutating: true,
		Help:     "take an exposure",
	}, e.expose)
	e.Method(tool.Method{Name: "abort", Mutating: true, Help: "abort the current exposure"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			e.flag = FlagAborted
			return nil, nil
		})
	e.Method(tool.Method{Name: "get_filename", Help: "name of the next image file"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return e.filename(), nil
		})
	e.Method(tool.Method{Name: "get_detpars", Help: "detector parameters"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return e.Detpars(), nil
		})
	e.Method(tool.Method{Name: "get_roi"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			return slices.Clone(e.roi), nil
		})
	e.Method(tool.Method{
		Name: "set_roi",
		Params: []tool.Param{
			{Name: "first_col", Kind: tool.KindInt},
			{Name: "last_col", Kind: tool.KindInt},
			{Name: "first_row", Kind: tool.KindInt},
			{Name: "last_row", Kind: tool.KindInt},
			{Name: "col_bin", Kind: tool.KindInt, Optional: true},
			{Name: "row_bin", Kind: tool.KindInt, Optional: true},
		},
		Mutating: true,
		Help:     "set the region of interest",
	}, e.setROI)
	e.Method(tool.Method{Name: "reset_roi", Mutating: true, Help: "restore the full-frame region of interest"},
		func(ctx context.Context, args []interface{}) (interface{}, error) {
			e.roi = slices.Clone(e.detpars.ROI)
			return nil, nil
		})
	return e, nil
}

// SetDetpars applies detector geometry. It resets the region of interest.
func (e *Exposure) SetDetpars(d config.DetectorConfig) error {
	if len(d.Gains) != len(d.RdNoises) {
		return fmt.Errorf("detector %s: %d gains but %d read noises", d.Name, len(d.Gains), len(d.RdNoises))
	}
	if len(d.ROI) != 0 && len(d.ROI) != 6 {
		return fmt.Errorf("detector %s: roi needs 6 values, got %d", d.Name, len(d.ROI))
	}
	e.detpars = d
	e.roi = slices.Clone(d.ROI)
	return nil
}

// Detpars returns the detector parameters as a map keyed like the config.
func (e *Exposure) Detpars() map[string]interface{} {
	d := e.detpars
	return map[string]interface{}{
		"name":         d.Name,
		"description":  d.Description,
		"ref_pixel":    d.RefPixel,
		"format":       d.Format,
		"focalplane":   d.Focalplane,
		"roi":          d.ROI,
		"ext_position": d.ExtPosition,
		"jpg_order":    d.JpgOrder,
		"gains":        d.Gains,
		"rdnoises":     d.RdNoises,
	}
}

func (e *Exposure) setFiletype(ft string) error {
	upper := strings.ToUpper(ft)
	if !slices.Contains(config.Filetypes, upper) {
		return tool.Errorf(tool.ErrArgument, "exposure.filetype", "invalid filetype %q", ft)
	}
	e.filetype = upper
	return nil
}

func (e *Exposure) setImageType(it string) error {
	lower := strings.ToLower(it)
	if !slices.Contains(ImageTypes, lower) {
		return tool.Errorf(tool.ErrArgument, "exposure.image_type", "invalid image type %q", it)
	}
	e.imageType = lower
	return nil
}

func (e *Exposure) filename() string {
	ext := ".fits"
	if e.filetype == "BIN" || e.filetype == "ASM" {
		ext = ".bin"
	}
	return filepath.Join(e.folder, fmt.Sprintf("%s%04d%s", e.root, e.imageNumber, ext))
}

func (e *Exposure) expose(ctx context.Context, args []interface{}) (interface{}, error) {
	if len(args) > 0 {
		et := args[0].(float64)
		if et < 0 {
			return nil, tool.Errorf(tool.ErrArgument, "exposure.expose", "exposure time must not be negative")
		}
		e.exposureTime = et
	}
	if len(args) > 1 {
		if err := e.setImageType(args[1].(string)); err != nil {
			return nil, err
		}
	}
	if len(args) > 2 {
		e.imageTitle = args[2].(string)
	}

	e.lastFile = e.filename()
	e.imageNumber++
	e.flag = FlagIdle

	e.logger.Info("Exposure complete",
		zap.String("file", e.lastFile),
		zap.String("imageType", e.imageType),
		zap.Float64("exposureTime", e.exposureTime),
		zap.Bool("display", e.displayImage))
	return nil, nil
}

func (e *Exposure) setROI(ctx context.Context, args []interface{}) (interface{}, error) {
	roi := []int{args[0].(int), args[1].(int), args[2].(int), args[3].(int), 1, 1}
	if len(args) > 4 {
		roi[4] = args[4].(int)
	}
	if len(args) > 5 {
		roi[5] = args[5].(int)
	}

	if roi[0] < 1 || roi[2] < 1 || roi[1] < roi[0] || roi[3] < roi[2] {
		return nil, tool.Errorf(tool.ErrArgument, "exposure.set_roi", "invalid region %v", roi[:4])
	}
	if roi[4] < 1 || roi[5] < 1 {
		return nil, tool.Errorf(tool.ErrArgument, "exposure.set_roi", "binning must be positive")
	}
	if len(e.detpars.ROI) == 6 && (roi[1] > e.detpars.ROI[1] || roi[3] > e.detpars.ROI[3]) {
		return nil, tool.Errorf(tool.ErrArgument, "exposure.set_roi", "region exceeds detector %dx%d", e.detpars.ROI[1], e.detpars.ROI[3])
	}
	e.roi = roi
	return nil, nil
}
