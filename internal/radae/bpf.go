package radae

import "math"

// BandPassFilter is a complex FIR band-pass filter applied to the raw input
// stream before acquisition, centred on the carrier band so that acquisition
// and demodulation see a signal with out-of-band noise suppressed.
type BandPassFilter struct {
	taps []complex128
	hist []complex128
	pos  int
}

const bpfTaps = 101

// NewBandPassFilter designs a length-101 complex FIR band-pass filter centred
// on the midpoint of the outer carriers, with a passband 20% wider than the
// occupied carrier span.
func NewBandPassFilter(p *Params) *BandPassFilter {
	loHz := p.W[0] * p.Fs / (2 * math.Pi)
	hiHz := p.W[p.Nc-1] * p.Fs / (2 * math.Pi)
	centre := (loHz + hiHz) / 2
	bandwidth := 1.2 * (hiHz - loHz)

	n := bpfTaps
	taps := make([]complex128, n)
	mid := (n - 1) / 2
	cutoff := bandwidth / 2
	for i := 0; i < n; i++ {
		k := i - mid
		var sinc float64
		if k == 0 {
			sinc = 2 * cutoff / p.Fs
		} else {
			sinc = math.Sin(2*math.Pi*cutoff*float64(k)/p.Fs) / (math.Pi * float64(k))
		}
		// Hamming window to tame the sinc's slow rolloff.
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		lp := sinc * w
		// Modulate the real low-pass prototype up to the carrier centre
		// frequency, producing a complex band-pass response.
		ang := 2 * math.Pi * centre * float64(k) / p.Fs
		taps[i] = complex(lp, 0) * complex(math.Cos(ang), math.Sin(ang))
	}

	return &BandPassFilter{
		taps: taps,
		hist: make([]complex128, n),
	}
}

// Apply filters in-place the given block of samples, maintaining FIR history
// across calls so consecutive blocks filter continuously.
func (b *BandPassFilter) Apply(x []complex128) {
	n := len(b.taps)
	for i := range x {
		b.hist[b.pos] = x[i]
		var acc complex128
		idx := b.pos
		for _, tap := range b.taps {
			acc += tap * b.hist[idx]
			idx--
			if idx < 0 {
				idx = n - 1
			}
		}
		x[i] = acc
		b.pos++
		if b.pos >= n {
			b.pos = 0
		}
	}
}
