package capture

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	AspectWidth  = 4
	AspectHeight = 3

	// DefaultAutoCropArea is the share of the largest fitting 4:3 box used
	// for a fresh crop.
	DefaultAutoCropArea = 0.8
)

// CropRegion is a rectangle in frame pixel coordinates.
type CropRegion struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (r CropRegion) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r CropRegion) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// DefaultCrop centers the largest 4:3 box that fits width x height, scaled by
// area.
func DefaultCrop(width, height int, area float64) CropRegion {
	if width <= 0 || height <= 0 {
		return CropRegion{}
	}
	if area <= 0 || area > 1 {
		area = DefaultAutoCropArea
	}

	fitW, fitH := float64(width), float64(height)
	if fitW*AspectHeight > fitH*AspectWidth {
		fitW = fitH * AspectWidth / AspectHeight
	} else {
		fitH = fitW * AspectHeight / AspectWidth
	}

	w := clampInt(int(math.Round(fitW*area)), 1, width)
	h := clampInt(int(math.Round(fitH*area)), 1, height)
	return CropRegion{
		X:      (width - w) / 2,
		Y:      (height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// MoveTo places the box at (x, y), keeping its size and clamping it inside
// bounds.
func (r CropRegion) MoveTo(x, y int, bounds image.Rectangle) CropRegion {
	r.X = clampInt(x, 0, bounds.Dx()-r.Width)
	r.Y = clampInt(y, 0, bounds.Dy()-r.Height)
	return r
}

func (r CropRegion) Within(bounds image.Rectangle) bool {
	return r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= bounds.Dx() && r.Y+r.Height <= bounds.Dy()
}

// cropImage copies exactly r out of src into a new canvas.
func cropImage(src image.Image, r CropRegion) (*image.RGBA, error) {
	if src == nil || r.Empty() {
		return nil, fmt.Errorf("%w: canvas is empty", ErrEncode)
	}
	b := src.Bounds()
	if !r.Within(b) {
		return nil, fmt.Errorf("%w: crop %v outside frame %v", ErrEncode, r.Rect(), b)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(dst, dst.Bounds(), src, b.Min.Add(image.Pt(r.X, r.Y)), draw.Src)
	return dst, nil
}

// toRGBA copies img into an offscreen buffer at native resolution.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
