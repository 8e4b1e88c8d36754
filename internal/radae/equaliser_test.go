package radae

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCarrier_UnityChannelRecoversPilot(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	// A noiseless, unity channel: received pilots equal the known pilots.
	rxPilots := make([]complex128, p.Nc)
	copy(rxPilots, p.P)

	for c := 0; c < p.Nc; c++ {
		ch := eq.estimateCarrier(rxPilots, c)
		assert.InDelta(t, 1.0, real(ch), 1e-6, "carrier %d real part", c)
		assert.InDelta(t, 0.0, imag(ch), 1e-6, "carrier %d imag part", c)
	}
}

func TestEstimateCarrier_ScaledChannelRecoversGain(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	gain := complex(0.5, 0.2)
	rxPilots := make([]complex128, p.Nc)
	for c := range rxPilots {
		rxPilots[c] = p.P[c] * gain
	}

	for c := 0; c < p.Nc; c++ {
		ch := eq.estimateCarrier(rxPilots, c)
		assert.InDelta(t, real(gain), real(ch), 1e-6)
		assert.InDelta(t, imag(gain), imag(ch), 1e-6)
	}
}

func TestEstimateCarrier_UnityChannelMatchesDirectRatio(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	rxPilots := make([]complex128, p.Nc)
	for c := range rxPilots {
		rxPilots[c] = p.P[c]
	}
	ch := eq.estimateCarrier(rxPilots, 1)
	assert.InDelta(t, 1.0, cmplx.Abs(ch), 1e-6)
}

func TestEqualiseFrame_PhaseOnlyDerotatesConstantChannel(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	ch := make([]complex128, p.Nc)
	theta := 0.3
	for c := range ch {
		ch[c] = cmplx.Exp(complex(0, theta))
	}

	rxSym := make([][]complex128, p.Ns+1)
	for k := range rxSym {
		rxSym[k] = make([]complex128, p.Nc)
		for c := range rxSym[k] {
			rxSym[k][c] = cmplx.Exp(complex(0, theta)) * complex(2, 0)
		}
	}

	out := eq.EqualiseFrame(rxSym, ch, ch, false, true)
	assert.Len(t, out, p.Ns)
	for _, row := range out {
		for _, s := range row {
			assert.InDelta(t, 2.0, cmplx.Abs(s), 1e-6, "magnitude is unaffected by phase-only equalisation")
			assert.InDelta(t, 0.0, cmplx.Phase(s), 1e-6, "phase should be fully derotated")
		}
	}
}

func TestEqualiseFrame_PhaseMagScalesAmplitude(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	ch := make([]complex128, p.Nc)
	for c := range ch {
		ch[c] = complex(2, 0)
	}
	rxSym := make([][]complex128, p.Ns+1)
	for k := range rxSym {
		rxSym[k] = make([]complex128, p.Nc)
		for c := range rxSym[k] {
			rxSym[k][c] = complex(4, 0)
		}
	}

	out := eq.EqualiseFrame(rxSym, ch, ch, true, true)
	for _, row := range out {
		for _, s := range row {
			assert.InDelta(t, 2.0, real(s), 1e-6, "phase+magnitude equalisation divides out channel gain")
		}
	}
}

func TestCoarseMagAGC_RescalesByPilotMagnitude(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	pilots := make([]complex128, p.Nc)
	for c := range pilots {
		pilots[c] = complex(3, 0)
	}
	frame := [][]complex128{{complex(5, 0), complex(-5, 0)}}
	eq.CoarseMagAGC(pilots, frame)

	assert.Greater(t, eq.LastMagnitude(), 0.0)
	assert.NotEqual(t, 5.0, real(frame[0][0]), "AGC should have rescaled the frame")
}

func TestCoarseMagAGC_ZeroPilotsIsNoOp(t *testing.T) {
	p := newTestParams(t)
	eq := NewEqualiser(p)

	pilots := make([]complex128, p.Nc)
	frame := [][]complex128{{complex(5, 0)}}
	eq.CoarseMagAGC(pilots, frame)

	assert.Equal(t, complex(5, 0), frame[0][0], "a silent pilot row must not blow up the gain")
}
