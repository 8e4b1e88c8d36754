package radae

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestParams(t *testing.T) *Params {
	t.Helper()
	p, err := NewParams(8000, 80, 3, Bottleneck3, 0.004)
	require.NoError(t, err)
	return p
}

// embedPilot writes a pilot body waveform (optionally frequency-shifted and
// repeated two frames apart) into a zero buffer, at the symbol-body start
// acquisition now expects (no cyclic prefix folded into the template).
func embedPilot(p *Params, bufLen, t0 int, freqHz float64) []complex128 {
	buf := make([]complex128, bufLen)
	tmpl := p.p
	w := 2 * 3.141592653589793 * freqHz / p.Fs
	for frame := 0; frame < 2; frame++ {
		base := t0 + frame*p.Nmf
		for m, s := range tmpl {
			idx := base + m
			if idx < 0 || idx >= bufLen {
				continue
			}
			// correlate() derotates by exp(-j*w*m) relative to each
			// template's own start, so the embedded phase here must match:
			// relative to m, not the buffer's absolute index.
			buf[idx] += s * cmplx.Exp(complex(0, w*float64(m)))
		}
	}
	return buf
}

func TestDetectPilots_FindsNoiselessPilotAtZeroOffset(t *testing.T) {
	p := newTestParams(t)
	a := NewAcquisition(p)

	buf := embedPilot(p, 2*p.Nmf+p.M+p.Ncp, 10, 0)
	candidate, tmax, fmax, dtmax12 := a.DetectPilots(buf)

	assert.True(t, candidate, "a clean pilot pair should be detected")
	assert.Equal(t, 10, tmax, "tmax should land exactly on the pilot body start, not the CP start")
	assert.InDelta(t, 0, fmax, 2.0, "fmax should land on the true (zero) frequency offset")
	assert.Greater(t, dtmax12, 0.0)
}

func TestDetectPilots_RejectsAllZeroBuffer(t *testing.T) {
	p := newTestParams(t)
	a := NewAcquisition(p)

	buf := make([]complex128, 2*p.Nmf+p.M+p.Ncp)
	candidate, _, _, _ := a.DetectPilots(buf)
	assert.False(t, candidate, "an all-zero buffer carries no pilot energy")
}

func TestAcquisition_TranslationEquivariance(t *testing.T) {
	// Property: shifting the pilot embedding by a fixed number of samples
	// shifts the detected tmax by the same amount (translation equivariance
	// of the correlation search), as long as both placements stay inside the
	// search window.
	p := newTestParams(t)
	a := NewAcquisition(p)

	bufLen := 2*p.Nmf + p.M + p.Ncp
	shift := 5
	t1, t2 := 20, 20+shift

	_, tmax1, _, _ := a.DetectPilots(embedPilot(p, bufLen, t1, 0))
	_, tmax2, _, _ := a.DetectPilots(embedPilot(p, bufLen, t2, 0))

	assert.Equal(t, tmax1+shift, tmax2)
}

func TestRefine_ImprovesOnCoarseEstimate(t *testing.T) {
	p := newTestParams(t)
	a := NewAcquisition(p)

	bufLen := 2*p.Nmf + p.M + p.Ncp
	buf := embedPilot(p, bufLen, 10, 3.3)

	tRange := WideTimeRange(10)
	fRange := WideFreqRange(0)
	tmax, fmax, d := a.Refine(buf, 10, 0, tRange, fRange)

	assert.InDelta(t, 10, tmax, 1)
	assert.InDelta(t, 3.3, fmax, 0.3)
	assert.Greater(t, d, 0.0)
}

func TestCheckPilots_TracksLockedPosition(t *testing.T) {
	p := newTestParams(t)
	a := NewAcquisition(p)

	bufLen := 2*p.Nmf + p.M + p.Ncp
	buf := embedPilot(p, bufLen, 10, 0)
	candidate, dtmax12, endOfOver, _ := a.CheckPilots(buf, 10, 0)

	assert.True(t, candidate)
	assert.False(t, endOfOver, "a data-pilot-only buffer should not look like an end-of-over marker")
	assert.Greater(t, dtmax12, 0.0)
}

// TestTimingRanges_ContainTmax is a property test: whatever tmax the
// timing-slip correction in SyncFsm.Feed produces, the tight/wide ranges
// built around it always include tmax itself.
func TestTimingRanges_ContainTmax(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tmax := rapid.IntRange(0, 20000).Draw(rt, "tmax")
		tight := TightTimeRange(tmax)
		wide := WideTimeRange(tmax)

		assert.Contains(rt, tight, tmax)
		assert.Contains(rt, wide, tmax)
		assert.Len(rt, wide, 3)
	})
}
