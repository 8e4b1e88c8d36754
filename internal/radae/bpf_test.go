package radae

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandPassFilter_PassesInBandTone(t *testing.T) {
	p := newTestParams(t)
	b := NewBandPassFilter(p)

	centreHz := (p.W[0] + p.W[p.Nc-1]) * p.Fs / (2 * 2 * 3.141592653589793)
	w := 2 * 3.141592653589793 * centreHz / p.Fs

	n := 2000
	x := make([]complex128, n)
	for i := range x {
		x[i] = cmplx.Exp(complex(0, w*float64(i)))
	}
	b.Apply(x)

	// Settle past the filter's group delay before judging steady-state gain.
	tail := x[n-200:]
	var sumMag float64
	for _, s := range tail {
		sumMag += cmplx.Abs(s)
	}
	avg := sumMag / float64(len(tail))
	assert.Greater(t, avg, 0.5, "an in-band tone should pass with near-unity gain once the filter settles")
}

func TestBandPassFilter_AttenuatesOutOfBandTone(t *testing.T) {
	p := newTestParams(t)
	b := NewBandPassFilter(p)

	// Well below the carrier band: DC.
	n := 2000
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(1, 0)
	}
	b.Apply(x)

	tail := x[n-200:]
	var sumMag float64
	for _, s := range tail {
		sumMag += cmplx.Abs(s)
	}
	avg := sumMag / float64(len(tail))
	assert.Less(t, avg, 0.3, "DC should be well outside the carrier passband and heavily attenuated")
}

func TestBandPassFilter_MaintainsHistoryAcrossCalls(t *testing.T) {
	p := newTestParams(t)
	b := NewBandPassFilter(p)

	whole := make([]complex128, 300)
	for i := range whole {
		whole[i] = complex(float64(i%7), 0)
	}
	wholeCopy := make([]complex128, len(whole))
	copy(wholeCopy, whole)
	b.Apply(wholeCopy)

	b2 := NewBandPassFilter(p)
	part1 := make([]complex128, 150)
	copy(part1, whole[:150])
	part2 := make([]complex128, 150)
	copy(part2, whole[150:])
	b2.Apply(part1)
	b2.Apply(part2)

	chunked := append(part1, part2...)
	for i := range wholeCopy {
		assert.InDelta(t, real(wholeCopy[i]), real(chunked[i]), 1e-9, "sample %d", i)
		assert.InDelta(t, imag(wholeCopy[i]), imag(chunked[i]), 1e-9, "sample %d", i)
	}
}
