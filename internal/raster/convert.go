package raster

import (
	"fmt"
	"image"
	"image/draw"
)

// FromGray builds a single-channel continuous raster from an 8-bit gray image.
func FromGray(img *image.Gray) (*Raster, error) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidRaster)
	}
	pix := make([]float64, h*w)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, v := range row {
			pix[y*w+x] = float64(v)
		}
	}
	return New(h, w, 1, Continuous, pix)
}

// ToGray returns img as an 8-bit gray image with its origin at (0, 0).
// Gray images are returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// FromImage converts any image to a single-channel luma raster.
func FromImage(img image.Image) (*Raster, error) {
	return FromGray(ToGray(img))
}

// FromClassIndices expands a per-pixel class index map into a categorical
// raster with one On/Off indicator channel per class.
func FromClassIndices(h, w, classes int, idx []uint8) (*Raster, error) {
	if classes < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidRaster, classes)
	}
	if h <= 0 || w <= 0 || len(idx) != h*w {
		return nil, fmt.Errorf("%w: class map has %d entries for %dx%d", ErrInvalidRaster, len(idx), h, w)
	}
	pix := make([]float64, h*w*classes)
	for i, k := range idx {
		if int(k) >= classes {
			return nil, fmt.Errorf("%w: class %d at pixel %d exceeds %d classes", ErrInvalidRaster, k, i, classes)
		}
		pix[i*classes+int(k)] = On
	}
	return New(h, w, classes, Categorical, pix)
}

// FromClassImage reads class indices from the gray channel of a mask image.
func FromClassImage(img *image.Gray, classes int) (*Raster, error) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: empty mask", ErrInvalidRaster)
	}
	idx := make([]uint8, h*w)
	for y := 0; y < h; y++ {
		copy(idx[y*w:(y+1)*w], img.Pix[y*img.Stride:y*img.Stride+w])
	}
	return FromClassIndices(h, w, classes, idx)
}
