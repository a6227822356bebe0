// ABOUTME: Streaming linear interpolation resampler
// ABOUTME: Carries the previous frame so chunk boundaries interpolate correctly
package resampler

import "encoding/json"

func init() {
	Register("linear", newLinear)
}

type linear struct {
	channels int
	inRate   int64
	outRate  int64
	// Position of the next output sample, measured in input frames
	// from the carried previous frame and scaled by outRate. Integer
	// arithmetic keeps split and whole inputs bit-identical.
	posNum int64
	prev   []int16 // last consumed input frame
	primed bool
}

func newLinear(cfg json.RawMessage, channels, inRate, outRate int) (Resampler, error) {
	return &linear{
		channels: channels,
		inRate:   int64(inRate),
		outRate:  int64(outRate),
		prev:     make([]int16, channels),
	}, nil
}

// frame returns input frame i, where frame 0 is the carried previous
// frame and frames 1..n map into src.
func (r *linear) frame(src []int16, i, ch int) int16 {
	if i == 0 {
		return r.prev[ch]
	}
	return src[(i-1)*r.channels+ch]
}

func (r *linear) Process(dst, src []int16) []int16 {
	n := len(src) / r.channels
	if n == 0 {
		return dst
	}
	if !r.primed {
		// Seed the carry with the first real frame and start there.
		copy(r.prev, src[:r.channels])
		r.primed = true
		r.posNum = r.outRate
	}

	for {
		i := int(r.posNum / r.outRate)
		if i+1 > n {
			break
		}
		frac := float64(r.posNum%r.outRate) / float64(r.outRate)
		for ch := 0; ch < r.channels; ch++ {
			s0 := float64(r.frame(src, i, ch))
			s1 := float64(r.frame(src, i+1, ch))
			dst = append(dst, int16(s0*(1-frac)+s1*frac))
		}
		r.posNum += r.inRate
	}

	// Keep the last input frame and re-anchor the position on it.
	copy(r.prev, src[(n-1)*r.channels:])
	r.posNum -= int64(n) * r.outRate
	return dst
}

func (r *linear) Reset() {
	r.posNum = 0
	r.primed = false
	for i := range r.prev {
		r.prev[i] = 0
	}
}
