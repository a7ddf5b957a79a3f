// Package optimizer re-encodes uploaded images into a size-bounded canonical form.
package optimizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/gif"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/h2non/bimg"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// Output formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatGIF  = "gif"
)

var errNotImage = errors.New("input is not a decodable image")

// Options bounds the output image.
type Options struct {
	MaxWidth  int
	MaxHeight int
	// Quality is 1-100. For PNG it is mapped onto zlib compression effort.
	Quality int
}

// DefaultOptions are used for zero fields of Options.
var DefaultOptions = Options{MaxWidth: 2048, MaxHeight: 2048, Quality: 85}

// Result is an optimized image and what was done to it.
type Result struct {
	Data             []byte
	Width            int
	Height           int
	Format           string
	MimeType         string
	HasAlpha         bool
	Progressive      bool
	OriginalSize     int64
	Size             int64
	CompressionRatio float64
}

// Optimizer wraps libvips.
type Optimizer struct {
	defaults Options
}

// New creates an optimizer. Zero fields of defaults fall back to DefaultOptions.
func New(defaults Options) *Optimizer {
	return &Optimizer{defaults: defaults.withFallback(DefaultOptions)}
}

func (o Options) withFallback(d Options) Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = d.Quality
	}
	return o
}

// Optimize decodes raw, auto-rotates it, fits it inside the configured bounds
// and re-encodes it. raw is never modified. Decode failures are returned as
// *apierrors.OptimizationError.
func (o *Optimizer) Optimize(ctx context.Context, raw []byte, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &apierrors.OptimizationError{Err: errNotImage}
	}
	opts = opts.withFallback(o.defaults)

	mime := mimetype.Detect(raw)
	if !strings.HasPrefix(mime.String(), "image/") {
		return nil, &apierrors.OptimizationError{Err: fmt.Errorf("%w: detected %s", errNotImage, mime.String())}
	}

	// libvips may reference the input buffer, so work on a private copy.
	buf := bytes.Clone(raw)

	if mime.Is("image/gif") {
		if anim := decodeAnimatedGIF(buf); anim != nil {
			return passthroughGIF(buf, anim), nil
		}
	}

	img := bimg.NewImage(buf)
	meta, err := img.Metadata()
	if err != nil {
		return nil, &apierrors.OptimizationError{Err: err}
	}

	width, height := meta.Size.Width, meta.Size.Height
	if meta.Orientation >= 5 {
		// Orientations 5-8 rotate by 90 degrees, swapping the displayed axes.
		width, height = height, width
	}
	targetW, targetH := FitWithin(width, height, opts.MaxWidth, opts.MaxHeight)

	format, imageType := OutputFormat(mime.String())
	processOpts := bimg.Options{
		Type:          imageType,
		Quality:       opts.Quality,
		StripMetadata: false,
		NoAutoRotate:  false,
		Enlarge:       false,
	}
	if targetW != width || targetH != height {
		processOpts.Width = targetW
		processOpts.Height = targetH
		processOpts.Force = true
	}
	switch format {
	case FormatJPEG:
		processOpts.Interlace = true
	case FormatPNG:
		processOpts.Compression = PNGCompression(opts.Quality)
	}

	out, err := img.Process(processOpts)
	if err != nil {
		return nil, &apierrors.OptimizationError{Err: err}
	}

	size, err := bimg.NewImage(out).Size()
	if err != nil {
		return nil, &apierrors.OptimizationError{Err: err}
	}

	return &Result{
		Data:             out,
		Width:            size.Width,
		Height:           size.Height,
		Format:           format,
		MimeType:         "image/" + format,
		HasAlpha:         meta.Alpha && format != FormatJPEG,
		Progressive:      format == FormatJPEG,
		OriginalSize:     int64(len(raw)),
		Size:             int64(len(out)),
		CompressionRatio: Ratio(int64(len(raw)), int64(len(out))),
	}, nil
}

// OutputFormat maps a sniffed input MIME type to the format it is re-encoded as.
// Static GIFs become WebP; anything unrecognised becomes JPEG.
func OutputFormat(mime string) (string, bimg.ImageType) {
	switch mime {
	case "image/png":
		return FormatPNG, bimg.PNG
	case "image/webp":
		return FormatWebP, bimg.WEBP
	case "image/gif":
		return FormatWebP, bimg.WEBP
	default:
		return FormatJPEG, bimg.JPEG
	}
}

// FitWithin scales w x h down to fit maxW x maxH, preserving aspect ratio.
// Images already inside the bounds are returned unchanged.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(int(float64(w)*scale+0.5), 1)
	nh := max(int(float64(h)*scale+0.5), 1)
	return min(nw, maxW), min(nh, maxH)
}

// PNGCompression maps quality 1-100 onto zlib level 0-9; lower quality compresses harder.
func PNGCompression(quality int) int {
	level := 9 - quality*9/100
	return max(0, min(level, 9))
}

// Ratio is original/optimized, or 1 when either side is empty.
func Ratio(original, optimized int64) float64 {
	if original <= 0 || optimized <= 0 {
		return 1
	}
	return float64(original) / float64(optimized)
}

// decodeAnimatedGIF returns the decoded GIF when it has more than one frame.
func decodeAnimatedGIF(buf []byte) *gif.GIF {
	g, err := gif.DecodeAll(bytes.NewReader(buf))
	if err != nil || len(g.Image) < 2 {
		return nil
	}
	return g
}

func passthroughGIF(buf []byte, g *gif.GIF) *Result {
	hasAlpha := false
	for _, frame := range g.Image {
		if paletteHasAlpha(frame.Palette) {
			hasAlpha = true
			break
		}
	}
	return &Result{
		Data:             buf,
		Width:            g.Config.Width,
		Height:           g.Config.Height,
		Format:           FormatGIF,
		MimeType:         "image/gif",
		HasAlpha:         hasAlpha,
		OriginalSize:     int64(len(buf)),
		Size:             int64(len(buf)),
		CompressionRatio: 1,
	}
}

func paletteHasAlpha(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a < 0xffff {
			return true
		}
	}
	return false
}
