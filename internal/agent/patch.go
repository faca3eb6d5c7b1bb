package agent

import "math"

// Patch is a freshly allocated Size×Size×Channels view. Ownership passes to
// the caller; the View never keeps a reference.
type Patch struct {
	Size     int
	Channels int
	Pix      []float64
}

// NewPatch allocates a zeroed patch.
func NewPatch(size, channels int) Patch {
	return Patch{Size: size, Channels: channels, Pix: make([]float64, size*size*channels)}
}

// At returns channel ch of output pixel (i, j).
func (p Patch) At(i, j, ch int) float64 {
	return p.Pix[(i*p.Size+j)*p.Channels+ch]
}

// Set writes channel ch of output pixel (i, j).
func (p Patch) Set(i, j, ch int, v float64) {
	p.Pix[(i*p.Size+j)*p.Channels+ch] = v
}

// Channel returns a copy of one channel as a Size×Size plane.
func (p Patch) Channel(ch int) []float64 {
	out := make([]float64, p.Size*p.Size)
	for k := range out {
		out[k] = p.Pix[k*p.Channels+ch]
	}
	return out
}

// StdDev returns the population standard deviation over all values.
func (p Patch) StdDev() float64 {
	n := float64(len(p.Pix))
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Pix {
		sum += v
	}
	mean := sum / n
	var ss float64
	for _, v := range p.Pix {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / n)
}

// ClassIndices turns a categorical patch into per-pixel class indices.
//
// Each channel is first thresholded at frac of its own maximum; the surviving
// channel with the largest value wins. Pixels where no channel survives get
// class 0. Thresholding before the argmax keeps faint interpolation halos from
// leaking a neighbouring class across a boundary.
func ClassIndices(p Patch, frac float64) []int {
	maxes := make([]float64, p.Channels)
	for k, v := range p.Pix {
		ch := k % p.Channels
		if v > maxes[ch] {
			maxes[ch] = v
		}
	}
	out := make([]int, p.Size*p.Size)
	for px := range out {
		best, bestV := 0, math.Inf(-1)
		for ch := 0; ch < p.Channels; ch++ {
			v := p.Pix[px*p.Channels+ch]
			if maxes[ch] <= 0 || v <= frac*maxes[ch] {
				continue
			}
			if v > bestV {
				best, bestV = ch, v
			}
		}
		out[px] = best
	}
	return out
}
