package radae

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Demodulator turns a rate-Fs modem-frame window into a rate-Rs complex
// symbol grid and, via the Equaliser, a real-valued latent vector sequence.
type Demodulator struct {
	p  *Params
	eq *Equaliser

	lastPilotRow []complex128
}

// NewDemodulator constructs a Demodulator bound to p.
func NewDemodulator(p *Params) *Demodulator {
	return &Demodulator{p: p, eq: NewEqualiser(p)}
}

// Equaliser exposes the underlying Equaliser for diagnostics (AGC gain).
func (d *Demodulator) Equaliser() *Equaliser { return d.eq }

// dft transforms one OFDM symbol's time-domain samples (post CP-removal) to
// Nc complex carrier values via the precomputed forward DFT matrix. Wfwd is
// the bare exp(-j.m.w[c]) matrix with no 1/M scaling (matching the published
// forward-DFT definition); the resulting carrier-magnitude scale is absorbed
// by CoarseMagAGC downstream.
func (d *Demodulator) dft(td []complex128) []complex128 {
	out := make([]complex128, d.p.Nc)
	for c := 0; c < d.p.Nc; c++ {
		var acc complex128
		for m := 0; m < d.p.M; m++ {
			acc += td[m] * d.p.Wfwd[m][c]
		}
		out[c] = acc
	}
	return out
}

// removeCP extracts the M-sample DFT window from one OFDM symbol slot of
// length M+Ncp, applying the fixed time_offset bias.
func (d *Demodulator) removeCP(symbol []complex128) ([]complex128, error) {
	start := d.p.Ncp + d.p.TimeOffset
	end := start + d.p.M
	if start < 0 || end > len(symbol) {
		return nil, fmt.Errorf("radae: CP-removal window [%d,%d) out of range for symbol of length %d", start, end, len(symbol))
	}
	return symbol[start:end], nil
}

// symbolStride is one OFDM symbol's length in samples.
func (d *Demodulator) symbolStride() int { return d.p.M + d.p.Ncp }

// DemodFrame carries out the full per-frame pipeline: slice the
// window into Ns+1 OFDM symbols, remove CP, DFT, equalise, and demap to the
// real latent vector sequence. window must hold at least (Ns+1)*(M+Ncp)
// samples; only those are read. nextPilotRow is the DFT output of the
// following frame's pilot symbol: unless lastFrame is set, the equaliser
// interpolates the channel between this frame's pilot row and it.
func (d *Demodulator) DemodFrame(window []complex128, nextPilotRow []complex128, phaseMagEq, lastFrame bool) ([]float64, error) {
	stride := d.symbolStride()
	rows := d.p.Ns + 1
	if len(window) < rows*stride {
		return nil, fmt.Errorf("radae: window too short: have %d need %d", len(window), rows*stride)
	}

	rxSym := make([][]complex128, rows)
	for k := 0; k < rows; k++ {
		td, err := d.removeCP(window[k*stride : (k+1)*stride])
		if err != nil {
			return nil, err
		}
		rxSym[k] = d.dft(td)
	}

	d.lastPilotRow = rxSym[0]
	chPrev := d.eq.EstimatePilotRow(rxSym[0])
	var chNext []complex128
	if !lastFrame && nextPilotRow != nil {
		chNext = d.eq.EstimatePilotRow(nextPilotRow)
	}

	dataSym := d.eq.EqualiseFrame(rxSym, chPrev, chNext, phaseMagEq, lastFrame)
	d.eq.CoarseMagAGC(chPrev, dataSym)

	latent := make([]float64, 0, d.p.Ns*d.p.Nc*2/d.p.Bps)
	for _, row := range dataSym {
		for _, s := range row {
			latent = append(latent, real(s), imag(s))
		}
	}
	return latent, nil
}

// EstimateSNR reports the single-frame SNR estimate for the most recently
// demodulated frame's pilot row.
func (d *Demodulator) EstimateSNR() float64 {
	if d.lastPilotRow == nil {
		return 0
	}
	return estSnr(d.lastPilotRow, d.p.P)
}

// estSnr is a single-frame SNR estimate from a matched-filter correlation of
// the pilot row against the known template:
// SNR ~= Ct / (Ep - Ct) where Ct is the correlation energy and Ep the total
// pilot-row energy.
func estSnr(rxPilots, knownP []complex128) float64 {
	var ep, corr float64
	for i, r := range rxPilots {
		ep += real(r)*real(r) + imag(r)*imag(r)
		corr += real(r * cmplx.Conj(knownP[i]))
	}
	if ep <= 0 {
		return 0
	}
	ctEnergy := corr * corr / ep
	denom := ep - ctEnergy
	if denom <= 1e-9 {
		return 60
	}
	ratio := ctEnergy / denom
	if ratio <= 0 {
		return -100
	}
	return 10 * math.Log10(ratio)
}
