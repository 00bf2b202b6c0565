package converter

import (
	"time"

	"paperreader/internal/domain"
)

// Options configures the built-in variants.
type Options struct {
	MarkerBinary string
	PageTimeout  time.Duration
}

// BuiltinVariants returns the static variant table.
func BuiltinVariants(opts Options, logger domain.Logger) []Variant {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 90 * time.Second
	}
	if opts.MarkerBinary == "" {
		opts.MarkerBinary = "marker_single"
	}

	return []Variant{
		{
			Name:    Fast,
			Aliases: []string{"pix2text", "fast_ocr"},
			Load:    NewFitzLoader(opts.PageTimeout, logger),
		},
		{
			Name:    Layout,
			Aliases: []string{"marker", "high_fidelity"},
			Check:   MarkerCheck(opts.MarkerBinary),
			Load:    NewMarkerLoader(opts.MarkerBinary, logger),
		},
		{
			Name:    Text,
			Aliases: []string{"pdftext"},
			Load:    NewTextLoader(logger),
		},
	}
}
