// Package radae implements the streaming receive datapath of a neural
// speech-over-HF OFDM waveform: band-pass conditioning, pilot acquisition,
// a sync state machine, and per-frame demodulation feeding an external
// neural decoder.
package radae

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Bottleneck selects the quantization/scaling regime of the transmit encoder,
// which in turn determines whether a pilot gain correction is required.
type Bottleneck int

const (
	Bottleneck1 Bottleneck = 1
	Bottleneck2 Bottleneck = 2
	Bottleneck3 Bottleneck = 3
)

// barkerP13 is the length-13 Barker sequence used to build the pilot pattern.
// It is the only Barker code this receiver uses; an 8-chip variant referenced
// in some literature is not used by the waveform.
var barkerP13 = []float64{1, 1, 1, 1, 1, -1, -1, 1, 1, -1, 1, -1, 1}

// barkerPilots wraps the Barker-13 sequence modulo its own length out to n
// carriers, matching the transmitter's pilot construction.
func barkerPilots(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = barkerP13[i%len(barkerP13)]
	}
	return p
}

// Params holds every constant derived once at construction time and shared,
// read-only, by Acquisition, Equaliser, Demodulator and SyncFsm.
type Params struct {
	Fs         float64 // sample rate, Hz
	LatentDim  int     // real symbols per latent vector
	Nzmf       int     // latent vectors per modem frame
	Bottleneck Bottleneck

	Bps int     // bits per (QPSK) symbol, always 2
	Rs  float64 // nominal OFDM symbol rate before pilot/CP upscaling

	Ns  int // data symbol rows per modem frame (excludes the pilot row)
	Nc  int // number of carriers
	M   int // DFT size
	Ncp int // cyclic-prefix length, samples

	Lower int       // index of the lowest carrier DFT bin
	W     []float64 // per-carrier angular frequency, rad/sample

	Winv [][]complex128 // [Nc][M] inverse DFT rows (per-carrier time template)
	Wfwd [][]complex128 // [M][Nc] forward DFT rows

	P    []complex128 // pilot symbols, length Nc
	p    []complex128 // time-domain pilot template, length M
	Pend []complex128 // end-of-over pilot symbols (alternate pattern), length Nc
	pend []complex128 // end-of-over time-domain template, length M

	PilotGain float64

	// TimeOffset biases the CP-removal window to compensate fixed filter
	// group delay; empirically -16 samples for the published waveform.
	TimeOffset int
	CoarseMag  bool

	Nmf int // samples per modem frame: (Ns+1)*(M+Ncp)
}

// NewParams derives every OFDM constant from the handful of configuration
// knobs the waveform exposes.
func NewParams(fs float64, latentDim, nzmf int, bottleneck Bottleneck, cyclicPrefix float64) (*Params, error) {
	p := &Params{
		Fs:         fs,
		LatentDim:  latentDim,
		Nzmf:       nzmf,
		Bottleneck: bottleneck,
		Bps:        2,
		CoarseMag:  true,
		TimeOffset: -16,
	}

	const Ts = 0.03
	const Tz = 0.04
	p.Rs = 1 / Ts

	p.Ns = int(float64(nzmf) * Tz / Ts)
	if p.Ns <= 0 {
		return nil, fmt.Errorf("radae: derived Ns <= 0 for Nzmf=%d", nzmf)
	}
	nsmf := nzmf * latentDim / p.Bps
	p.Nc = nsmf / p.Ns
	if p.Ns*p.Nc*p.Bps != nzmf*latentDim {
		return nil, fmt.Errorf("radae: Ns*Nc*bps (%d) != Nzmf*latent_dim (%d)", p.Ns*p.Nc*p.Bps, nzmf*latentDim)
	}

	p.Ncp = int(math.Round(cyclicPrefix * fs))

	// Upscale the symbol rate to account for the extra pilot row per frame,
	// then again for the cyclic prefix overhead, before choosing the DFT size.
	rsDash := p.Rs * float64(p.Ns+1) / float64(p.Ns)
	tsDash := 1 / rsDash
	rsDash = 1 / (tsDash - cyclicPrefix)
	p.M = int(math.Round(fs / rsDash))
	rsDash = fs / float64(p.M)

	p.Lower = int(math.Round(400 / rsDash))

	p.W = make([]float64, p.Nc)
	for c := range p.W {
		p.W[c] = 2 * math.Pi * float64(p.Lower+c) / float64(p.M)
	}

	p.Winv = make([][]complex128, p.Nc)
	p.Wfwd = make([][]complex128, p.M)
	for m := 0; m < p.M; m++ {
		p.Wfwd[m] = make([]complex128, p.Nc)
	}
	for c := 0; c < p.Nc; c++ {
		p.Winv[c] = make([]complex128, p.M)
		for m := 0; m < p.M; m++ {
			ang := float64(m) * p.W[c]
			p.Winv[c][m] = cmplx.Exp(complex(0, ang)) / complex(float64(p.M), 0)
			p.Wfwd[m][c] = cmplx.Exp(complex(0, -ang))
		}
	}

	barker := barkerPilots(p.Nc)
	p.P = make([]complex128, p.Nc)
	p.Pend = make([]complex128, p.Nc)
	sqrt2 := math.Sqrt(2)
	for c := range barker {
		p.P[c] = complex(sqrt2*barker[c], 0)
		// The end-of-over template reverses carrier order, giving a
		// template with low cross-correlation against the data pilot.
		p.Pend[c] = complex(sqrt2*barker[p.Nc-1-c], 0)
	}
	p.p = pilotTimeTemplate(p.P, p.Winv)
	p.pend = pilotTimeTemplate(p.Pend, p.Winv)

	p.PilotGain = 1.0
	if bottleneck == Bottleneck3 {
		p.PilotGain = math.Pow(10, -2.0/20.0) * float64(p.M) / math.Sqrt(float64(p.Nc))
	}

	p.Nmf = (p.Ns + 1) * (p.M + p.Ncp)

	return p, nil
}

// pilotTimeTemplate computes p = P . Winv, i.e. the time-domain waveform a
// pilot row of symbols P produces through the inverse DFT.
func pilotTimeTemplate(P []complex128, Winv [][]complex128) []complex128 {
	m := len(Winv[0])
	out := make([]complex128, m)
	for c, sym := range P {
		row := Winv[c]
		for i := 0; i < m; i++ {
			out[i] += sym * row[i]
		}
	}
	return out
}

// NumTimestepsAtRateRs returns how many rate-Rs symbol periods a modem frame
// spans: Ns+1 (pilot row plus data rows).
func (p *Params) NumTimestepsAtRateRs() int { return p.Ns + 1 }

// NumTimestepsAtRateFs returns the modem frame length in samples.
func (p *Params) NumTimestepsAtRateFs() int { return p.Nmf }
