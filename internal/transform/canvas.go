// Package transform normalizes downloaded product images onto a fixed-size
// canvas.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"path"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // register decoder
)

// Defaults match the catalog image requirements.
const (
	DefaultWidth       = 740
	DefaultHeight      = 740
	DefaultBackground  = "#ffffff"
	DefaultJPEGQuality = 90
)

// ErrUnsupportedFormat is returned when no encoder exists for a filename's
// extension.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Config controls the canvas.
type Config struct {
	Width       int
	Height      int
	Background  string
	JPEGQuality int
}

// Canvas implements catalog.Transformer. Images larger than the canvas are
// shrunk to fit preserving aspect ratio; smaller images keep their size.
// The result is centered on a solid background.
type Canvas struct {
	width      int
	height     int
	background color.RGBA
	quality    int
}

// NewCanvas validates cfg, applying defaults to zero values.
func NewCanvas(cfg Config) (*Canvas, error) {
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Background == "" {
		cfg.Background = DefaultBackground
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return nil, fmt.Errorf("canvas size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("jpeg quality must be within 1..100, got %d", cfg.JPEGQuality)
	}
	bg, err := ParseHexColor(cfg.Background)
	if err != nil {
		return nil, err
	}
	return &Canvas{
		width:      cfg.Width,
		height:     cfg.Height,
		background: bg,
		quality:    cfg.JPEGQuality,
	}, nil
}

// Transform decodes data, fits it onto the canvas and encodes it in the
// format implied by filename.
func (c *Canvas) Transform(data []byte, filename string) ([]byte, error) {
	format := formatOf(filename)
	if format == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(filename))
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c.background}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, c.fit(src.Bounds()), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := c.encode(&buf, dst, format); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// fit returns the centered destination rectangle for an image of size b.
func (c *Canvas) fit(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	scale := math.Min(1, math.Min(float64(c.width)/float64(w), float64(c.height)/float64(h)))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	x0 := (c.width - nw) / 2
	y0 := (c.height - nh) / 2
	return image.Rect(x0, y0, x0+nw, y0+nh)
}

func (c *Canvas) encode(buf *bytes.Buffer, img image.Image, format string) error {
	switch format {
	case "jpeg":
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: c.quality})
	case "png":
		return png.Encode(buf, img)
	case "gif":
		return gif.Encode(buf, img, nil)
	case "bmp":
		return bmp.Encode(buf, img)
	case "tiff":
		return tiff.Encode(buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func formatOf(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	case "bmp":
		return "bmp"
	case "tif", "tiff":
		return "tiff"
	default:
		return ""
	}
}

// ParseHexColor parses "#rrggbb" or "#rgb".
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
