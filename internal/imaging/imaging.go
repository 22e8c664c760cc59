// Package imaging covers the pixel work the engine needs around generation
// calls: fitting reference images to a provider's exact target dimensions
// and slicing nine-grid composites into panels.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"

	"storyforge/internal/domain"
)

// Dimensions is a target pixel size.
type Dimensions struct {
	Width  int
	Height int
}

// DimensionsForAspect maps an aspect-ratio string onto the pixel dimensions
// video providers expect. Unknown ratios derive a height from a 1280-wide
// frame; empty input means 16:9.
func DimensionsForAspect(aspect string) Dimensions {
	switch strings.TrimSpace(aspect) {
	case "", "16:9":
		return Dimensions{Width: 1280, Height: 720}
	case "9:16":
		return Dimensions{Width: 720, Height: 1280}
	case "1:1":
		return Dimensions{Width: 960, Height: 960}
	case "4:3":
		return Dimensions{Width: 1024, Height: 768}
	case "3:4":
		return Dimensions{Width: 768, Height: 1024}
	default:
		parts := strings.Split(aspect, ":")
		if len(parts) == 2 {
			a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
			b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errA == nil && errB == nil && a > 0 && b > 0 {
				return Dimensions{Width: 1280, Height: 1280 * b / a}
			}
		}
		return Dimensions{Width: 1280, Height: 720}
	}
}

// ResizeCover scales src to cover the target dimensions, then center-crops
// the overflow, so the output is exactly width x height. Providers reject
// reference images whose aspect ratio does not match the target video.
func ResizeCover(src image.Image, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("imaging: invalid target %dx%d", width, height)
	}
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("imaging: empty source image")
	}

	// Cover: scale by the larger of the two ratios.
	scaledW, scaledH := width, srcH*width/srcW
	if scaledH < height {
		scaledW, scaledH = srcW*height/srcH, height
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, xdraw.Over, nil)

	offsetX := (scaledW - width) / 2
	offsetY := (scaledH - height) / 2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Copy(out, image.Point{}, scaled, image.Rect(offsetX, offsetY, offsetX+width, offsetY+height), xdraw.Src, nil)
	return out, nil
}

// ResizeCoverData decodes an encoded reference image, fits it to the given
// dimensions, and returns it re-encoded as PNG.
func ResizeCoverData(ref domain.ImageData, dims Dimensions) (domain.ImageData, error) {
	raw, err := base64.StdEncoding.DecodeString(ref.Base64)
	if err != nil {
		return domain.ImageData{}, fmt.Errorf("imaging: decode base64: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.ImageData{}, fmt.Errorf("imaging: decode image: %w", err)
	}
	fitted, err := ResizeCover(src, dims.Width, dims.Height)
	if err != nil {
		return domain.ImageData{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, fitted); err != nil {
		return domain.ImageData{}, fmt.Errorf("imaging: encode png: %w", err)
	}
	return domain.ImageData{
		MIMEType: "image/png",
		Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// CropGrid slices an image into rows x cols equal cells in row-major order.
// Used to cut a nine-grid composite into its panels.
func CropGrid(src image.Image, rows, cols int) ([]*image.RGBA, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("imaging: invalid grid %dx%d", rows, cols)
	}
	bounds := src.Bounds()
	cellW := bounds.Dx() / cols
	cellH := bounds.Dy() / rows
	if cellW == 0 || cellH == 0 {
		return nil, errors.New("imaging: image too small for grid")
	}

	cells := make([]*image.RGBA, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cell := image.NewRGBA(image.Rect(0, 0, cellW, cellH))
			origin := image.Pt(bounds.Min.X+col*cellW, bounds.Min.Y+row*cellH)
			xdraw.Copy(cell, image.Point{}, src, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(cellW, cellH))}, xdraw.Src, nil)
			cells = append(cells, cell)
		}
	}
	return cells, nil
}

// CropGridData decodes a composite, slices it, and re-encodes each panel.
func CropGridData(composite domain.ImageData, rows, cols int) ([]domain.ImageData, error) {
	raw, err := base64.StdEncoding.DecodeString(composite.Base64)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode base64: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode image: %w", err)
	}
	cells, err := CropGrid(src, rows, cols)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ImageData, 0, len(cells))
	for _, cell := range cells {
		var buf bytes.Buffer
		if err := png.Encode(&buf, cell); err != nil {
			return nil, fmt.Errorf("imaging: encode panel: %w", err)
		}
		out = append(out, domain.ImageData{
			MIMEType: "image/png",
			Base64:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	return out, nil
}
