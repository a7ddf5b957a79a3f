package optimizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
	}{
		{"inside bounds untouched", 800, 600, 2048, 2048, 800, 600},
		{"never upscales", 10, 10, 2048, 2048, 10, 10},
		{"wide image", 4096, 1024, 2048, 2048, 2048, 512},
		{"tall image", 1000, 4000, 2048, 2048, 512, 2048},
		{"both dimensions over", 3000, 3000, 1000, 500, 500, 500},
		{"exact bound", 2048, 2048, 2048, 2048, 2048, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.w, tt.h, tt.maxW, tt.maxH)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestOutputFormat(t *testing.T) {
	tests := map[string]string{
		"image/jpeg": FormatJPEG,
		"image/png":  FormatPNG,
		"image/webp": FormatWebP,
		"image/gif":  FormatWebP,
		"image/tiff": FormatJPEG,
		"image/bmp":  FormatJPEG,
	}
	for mime, want := range tests {
		got, _ := OutputFormat(mime)
		assert.Equal(t, want, got, mime)
	}
}

func TestPNGCompression(t *testing.T) {
	assert.Equal(t, 9, PNGCompression(1))
	assert.Equal(t, 2, PNGCompression(85))
	assert.Equal(t, 0, PNGCompression(100))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 2.0, Ratio(200, 100))
	assert.Equal(t, 1.0, Ratio(0, 100))
	assert.Equal(t, 1.0, Ratio(100, 0))
}

func TestOptimize_RejectsNonImage(t *testing.T) {
	o := New(Options{})

	for _, input := range [][]byte{nil, []byte("plain text, not pixels")} {
		_, err := o.Optimize(context.Background(), input, Options{})
		var optErr *apierrors.OptimizationError
		assert.True(t, errors.As(err, &optErr), "expected OptimizationError, got %v", err)
	}
}

func TestOptimize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Optimize(ctx, []byte{0x89, 'P', 'N', 'G'}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimize_AnimatedGIFPassesThrough(t *testing.T) {
	palette := color.Palette{color.Transparent, color.White, color.Black}
	anim := &gif.GIF{}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 40, 30), palette)
		frame.SetColorIndex(i, i, uint8(i%3))
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, anim))
	raw := buf.Bytes()
	original := bytes.Clone(raw)

	res, err := New(Options{}).Optimize(context.Background(), raw, Options{MaxWidth: 10, MaxHeight: 10})
	require.NoError(t, err)

	assert.Equal(t, FormatGIF, res.Format)
	assert.Equal(t, "image/gif", res.MimeType)
	assert.Equal(t, 40, res.Width)
	assert.Equal(t, 30, res.Height)
	assert.Equal(t, original, res.Data)
	assert.Equal(t, 1.0, res.CompressionRatio)
	assert.True(t, res.HasAlpha)
	assert.Equal(t, original, raw, "input buffer must not be modified")
}

func TestOptimize_PNGResized(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 80, A: 200})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	raw := buf.Bytes()
	original := bytes.Clone(raw)

	res, err := New(Options{}).Optimize(context.Background(), raw, Options{MaxWidth: 100, MaxHeight: 100, Quality: 80})
	require.NoError(t, err)

	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 50, res.Height)
	assert.True(t, res.HasAlpha)
	assert.False(t, res.Progressive)
	assert.Equal(t, int64(len(raw)), res.OriginalSize)
	assert.Equal(t, int64(len(res.Data)), res.Size)
	assert.Equal(t, original, raw)
}
