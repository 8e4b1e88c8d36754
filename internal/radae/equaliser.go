package radae

import (
	"math"
	"math/cmplx"
)

// Equaliser estimates the per-carrier channel from pilot rows and rotates
// data symbols into the constellation. It carries the per-carrier
// inter-frame channel slope between calls; output slices are allocated on
// every call.
type Equaliser struct {
	p *Params

	prevSlope []complex128 // carried across frames for the final-frame reuse rule
	lastMag   float64
}

// NewEqualiser constructs an Equaliser bound to p.
func NewEqualiser(p *Params) *Equaliser {
	return &Equaliser{p: p, prevSlope: make([]complex128, p.Nc)}
}

// a is the assumed multipath delay, in samples (2.5 ms at Fs), used by the
// 3-tap least-squares channel model.
func (e *Equaliser) delayConst() float64 { return 0.0025 * e.p.Fs }

// estimateCarrier runs the 3-tap least-squares fit centred on cMid and
// evaluates the fitted channel at carrier c.
func (e *Equaliser) estimateCarrier(rxPilots []complex128, c int) complex128 {
	nc := e.p.Nc
	cMid := c
	if cMid < 1 {
		cMid = 1
	}
	if cMid > nc-2 {
		cMid = nc - 2
	}
	a := e.delayConst()

	idx := [3]int{cMid - 1, cMid, cMid + 1}
	var A [3][2]complex128
	var h [3]complex128
	for i, ci := range idx {
		A[i][0] = 1
		A[i][1] = cmplx.Exp(complex(0, -e.p.W[ci]*a))
		h[i] = rxPilots[ci] / e.p.P[ci]
	}

	// Normal equations: g = (A^H A)^-1 A^H h, solved directly for the 2x2 system.
	var ata [2][2]complex128
	var atb [2]complex128
	for i := 0; i < 3; i++ {
		for r := 0; r < 2; r++ {
			atb[r] += cmplx.Conj(A[i][r]) * h[i]
			for cc := 0; cc < 2; cc++ {
				ata[r][cc] += cmplx.Conj(A[i][r]) * A[i][cc]
			}
		}
	}
	det := ata[0][0]*ata[1][1] - ata[0][1]*ata[1][0]
	var g [2]complex128
	if cmplx.Abs(det) < 1e-12 {
		// Degenerate least-squares fit: fall back to the direct per-carrier
		// pilot estimate rather than dividing by a near-singular matrix.
		return rxPilots[c] / e.p.P[c]
	}
	g[0] = (ata[1][1]*atb[0] - ata[0][1]*atb[1]) / det
	g[1] = (ata[0][0]*atb[1] - ata[1][0]*atb[0]) / det

	return g[0] + g[1]*cmplx.Exp(complex(0, -e.p.W[c]*a))
}

// EstimatePilotRow returns the smoothed per-carrier channel estimate for one
// pilot row.
func (e *Equaliser) EstimatePilotRow(rxPilots []complex128) []complex128 {
	out := make([]complex128, e.p.Nc)
	for c := range out {
		out[c] = e.estimateCarrier(rxPilots, c)
	}
	return out
}

// EqualiseFrame applies pilot-based equalisation to one modem frame. rxSym
// is shaped [Ns+1][Nc] (row 0 the pilot row), phaseMagEq selects phase-only
// versus phase+magnitude correction, and last indicates the final frame of a
// burst (whose trailing slope reuses the previous frame's).
func (e *Equaliser) EqualiseFrame(rxSym [][]complex128, chPrev, chNext []complex128, phaseMagEq, last bool) [][]complex128 {
	ns := e.p.Ns
	nc := e.p.Nc
	out := make([][]complex128, ns)

	for k := 1; k <= ns; k++ {
		out[k-1] = make([]complex128, nc)
		t := float64(k) / float64(ns+1)
		for c := 0; c < nc; c++ {
			var ch complex128
			if last {
				ch = chPrev[c] + e.prevSlope[c]*complex(float64(k), 0)
			} else {
				ch = chPrev[c] + (chNext[c]-chPrev[c])*complex(t, 0)
			}
			s := rxSym[k][c]
			if phaseMagEq {
				if cmplx.Abs(ch) > 1e-9 {
					out[k-1][c] = s / ch
				} else {
					out[k-1][c] = s
				}
			} else {
				theta := cmplx.Phase(ch)
				out[k-1][c] = s * cmplx.Exp(complex(0, -theta))
			}
		}
	}

	if !last {
		for c := 0; c < nc; c++ {
			e.prevSlope[c] = (chNext[c] - chPrev[c]) / complex(float64(ns+1), 0)
		}
	}

	return out
}

// CoarseMagAGC divides an equalised data frame in-place by the RMS of this
// frame's smoothed pilot channel estimate (multiplied by |P[0]|/PilotGain
// under bottleneck 3); it does not normalise the data frame itself to unit
// RMS. This is
// deliberately a single-frame estimate, not a tracked IIR average — see the
// design note on why that limitation is kept rather than silently fixed.
func (e *Equaliser) CoarseMagAGC(rxPilotsSmoothed []complex128, frame [][]complex128) {
	var sumSq float64
	for _, v := range rxPilotsSmoothed {
		sumSq += real(v)*real(v) + imag(v)*imag(v)
	}
	mag := math.Sqrt(sumSq / float64(len(rxPilotsSmoothed)))
	if e.p.Bottleneck == Bottleneck3 {
		mag *= cmplx.Abs(e.p.P[0]) / e.p.PilotGain
	}
	e.lastMag = mag
	if mag < 1e-9 {
		return
	}
	scale := complex(1/mag, 0)
	for _, row := range frame {
		for c := range row {
			row[c] *= scale
		}
	}
}

// LastMagnitude returns the coarse AGC scale factor applied on the last call
// to CoarseMagAGC, exposed for diagnostics.
func (e *Equaliser) LastMagnitude() float64 { return e.lastMag }
