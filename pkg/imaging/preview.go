// Package imaging decodes uploaded raster images and renders bounded previews.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable reports bytes that are not a supported raster image.
var ErrUndecodable = errors.New("undecodable image")

const (
	defaultTarget = 100
	maxPixels     = 64 * 1024 * 1024
	jpegQuality   = 85
)

// Preview is the downscaled rendition of an upload.
type Preview struct {
	Data         []byte
	MediaType    string
	Width        int
	Height       int
	SourceFormat string
	SourceWidth  int
	SourceHeight int
}

// Codec renders previews whose larger side is at most Target pixels.
type Codec struct {
	Target int
}

// NewCodec returns a codec for the given target size.
func NewCodec(target int) *Codec {
	if target <= 0 {
		target = defaultTarget
	}
	return &Codec{Target: target}
}

// Preview decodes raw and re-encodes a scaled copy. JPEG sources stay JPEG, everything else becomes PNG.
func (c *Codec) Preview(raw []byte) (*Preview, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUndecodable)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d", ErrUndecodable, cfg.Width, cfg.Height)
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	bounds := src.Bounds()
	w, h := Fit(bounds.Dx(), bounds.Dy(), c.Target)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	buf := &bytes.Buffer{}
	mediaType := "image/png"
	if format == "jpeg" {
		mediaType = "image/jpeg"
		err = jpeg.Encode(buf, dst, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(buf, dst)
	}
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return &Preview{
		Data:         buf.Bytes(),
		MediaType:    mediaType,
		Width:        w,
		Height:       h,
		SourceFormat: format,
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
	}, nil
}

// Fit scales (w, h) so the larger side equals target, keeping the aspect ratio.
// Images already within target are left at their size.
func Fit(w, h, target int) (int, int) {
	if w <= 0 || h <= 0 || target <= 0 {
		return w, h
	}
	if w <= target && h <= target {
		return w, h
	}
	if w >= h {
		return target, clampMin(roundDiv(h*target, w))
	}
	return clampMin(roundDiv(w*target, h)), target
}

func roundDiv(num, den int) int {
	return (num + den/2) / den
}

func clampMin(v int) int {
	if v < 1 {
		return 1
	}
	return v
}
