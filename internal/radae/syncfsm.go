package radae

import (
	"math"
	"math/cmplx"

	"github.com/rs/zerolog"
)

// State is one of the three receiver sync states.
type State int

const (
	StateSearch State = iota
	StateCandidate
	StateSync
)

// StatusSink receives one status update per modem frame; it is implemented
// by internal/telemetry.Hub, kept as an interface here so the core datapath
// has no dependency on the transport used to publish it.
type StatusSink interface {
	Publish(state string, tmax int, fmax, dtmax12, snrEstDb float64, endOfOver bool)
}

func (s State) String() string {
	switch s {
	case StateSearch:
		return "search"
	case StateCandidate:
		return "candidate"
	case StateSync:
		return "sync"
	default:
		return "unknown"
	}
}

// tUnsync is how long sync survives without a pilot detection before the FSM
// drops back to search.
const tUnsync = 3.0 // seconds, Nmf_unsync derivation
const uwErrorThresh = 8
const uwSymbolRepeat = 4

// SyncFsm drives the receiver's per-frame state machine: it owns the sliding
// sample buffer, tracks timing/frequency, and hands locked frames to the
// Demodulator and Decoder.
type SyncFsm struct {
	p       *Params
	acq     *Acquisition
	demod   *Demodulator
	decoder Decoder
	bpf     *BandPassFilter
	Log     zerolog.Logger

	state State
	rxBuf []complex128
	tmax  int
	fmax  float64

	tmaxCandidate int
	validCount    int
	nmfUnsync     int

	rxPhase complex128
	nin     int

	syncedCount int
	uwErrors    int
	uwFail      bool

	// AuxData enables the 21st-feature unique-word bit tally.
	AuxData bool
	// DisableUnsync suppresses sync->search transitions once set, a
	// test-only knob (--disable-unsync).
	DisableUnsync bool
	// FoffErr, if non-zero, is injected once as a frequency error at the
	// first candidate->sync promotion (--foff-err test mode).
	FoffErr      float64
	foffInjected bool

	// PhaseMagEq selects phase+magnitude equalisation instead of the
	// default phase-only correction.
	PhaseMagEq bool

	// Sink, if set, receives one status update per frame (--telemetry-addr).
	Sink StatusSink

	// LatentSink, if set, receives each recovered latent vector as it is
	// demodulated in sync state, for --write-latent.
	LatentSink func(latent []float64) error

	// collect, if non-nil, accumulates recovered latent vectors in sync
	// state instead of (or alongside) forwarding to LatentSink, for
	// --ber-test's RunCollectingLatents.
	collect *[][]float64
}

// NewSyncFsm constructs a SyncFsm. bpf may be nil to disable band-pass
// conditioning (--no-bpf).
func NewSyncFsm(p *Params, decoder Decoder, bpf *BandPassFilter) *SyncFsm {
	nmfUnsync := int(math.Ceil(tUnsync * p.Fs / float64(p.Nmf)))
	return &SyncFsm{
		p:         p,
		acq:       NewAcquisition(p),
		demod:     NewDemodulator(p),
		decoder:   decoder,
		bpf:       bpf,
		rxBuf:     make([]complex128, 2*p.Nmf+p.M+p.Ncp),
		state:     StateSearch,
		rxPhase:   1,
		nin:       p.Nmf,
		nmfUnsync: nmfUnsync,
	}
}

// NextReadLen returns how many samples the driver should read before the
// next call to Feed.
func (s *SyncFsm) NextReadLen() int { return s.nin }

// State returns the current FSM state.
func (s *SyncFsm) State() State { return s.state }

// Feed consumes exactly NextReadLen() complex samples, advances the FSM by
// one iteration, and returns any feature frames produced (empty unless
// currently in sync). A longer samples slice is truncated to its first nin
// samples and a shorter one panics; the driver always reads exactly nin.
func (s *SyncFsm) Feed(samples []complex128) ([][]float64, error) {
	if len(samples) != s.nin {
		samples = samples[:s.nin]
	}
	if s.bpf != nil {
		cp := make([]complex128, len(samples))
		copy(cp, samples)
		s.bpf.Apply(cp)
		samples = cp
	}

	n := len(s.rxBuf)
	copy(s.rxBuf, s.rxBuf[len(samples):])
	copy(s.rxBuf[n-len(samples):], samples)

	var candidate bool
	var dtmax12 float64
	endOfOver := false

	if s.state == StateSearch || s.state == StateCandidate {
		candidate, s.tmax, s.fmax, dtmax12 = s.acq.DetectPilots(s.rxBuf)
	} else {
		tr := TightTimeRange(s.tmax)
		fr := TightFreqRange(s.fmax)
		tFine, fFine, _ := s.acq.Refine(s.rxBuf, s.tmax, s.fmax, tr, fr)
		s.tmax = tFine
		s.fmax = 0.9*s.fmax + 0.1*fFine
		candidate, dtmax12, endOfOver, _ = s.acq.CheckPilots(s.rxBuf, s.tmax, s.fmax)
	}

	// Timing-slip correction.
	s.nin = s.p.Nmf
	if s.tmax >= s.p.Nmf-s.p.M {
		s.nin = s.p.Nmf + s.p.M
		s.tmax -= s.p.M
	} else if s.tmax < s.p.M {
		s.nin = s.p.Nmf - s.p.M
		s.tmax += s.p.M
	}

	var out [][]float64
	if s.state == StateSync && !endOfOver {
		frames, err := s.demodulateLocked()
		if err != nil {
			return nil, err
		}
		out = frames
	}

	s.transition(candidate, endOfOver)

	snrEstDb := s.demod.EstimateSNR()
	s.Log.Debug().
		Str("state", s.state.String()).
		Int("tmax", s.tmax).
		Float64("fmax", s.fmax).
		Float64("Dtmax12", dtmax12).
		Bool("candidate", candidate).
		Bool("endOfOver", endOfOver).
		Float64("snrEstDb", snrEstDb).
		Msg("frame")

	if s.Sink != nil {
		s.Sink.Publish(s.state.String(), s.tmax, s.fmax, dtmax12, snrEstDb, endOfOver)
	}

	return out, nil
}

func (s *SyncFsm) transition(candidate, endOfOver bool) {
	switch s.state {
	case StateSearch:
		if candidate {
			s.state = StateCandidate
			s.tmaxCandidate = s.tmax
			s.validCount = 1
		}
	case StateCandidate:
		if candidate && abs(s.tmax-s.tmaxCandidate) < int(0.02*float64(s.p.M)) {
			s.validCount++
			if s.validCount > 3 {
				s.enterSync()
			}
		} else {
			s.state = StateSearch
		}
	case StateSync:
		if s.DisableUnsync {
			return
		}
		if candidate {
			s.validCount = s.nmfUnsync
		} else {
			s.validCount--
		}
		if endOfOver || s.uwFail || s.validCount <= 0 {
			s.state = StateSearch
			s.uwFail = false
		}
	}
}

func (s *SyncFsm) enterSync() {
	s.state = StateSync
	s.uwErrors = 0
	s.syncedCount = 0
	s.uwFail = false
	s.decoder.Reset()

	if !s.foffInjected && s.FoffErr != 0 {
		s.fmax += s.FoffErr
		s.foffInjected = true
	}

	tr := WideTimeRange(s.tmax)
	fr := WideFreqRange(s.fmax)
	tmax, fmax, _ := s.acq.Refine(s.rxBuf, s.tmax, s.fmax, tr, fr)
	s.tmax, s.fmax = tmax, fmax
	s.validCount = s.nmfUnsync
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// demodulateLocked de-rotates, slices, and demodulates the current locked
// frame, forwarding latents to the decoder and returning decoded feature
// frames.
func (s *SyncFsm) demodulateLocked() ([][]float64, error) {
	start := s.tmax - s.p.Ncp
	length := s.p.Nmf + s.p.M + s.p.Ncp
	if start < 0 || start+length > len(s.rxBuf) {
		return nil, nil
	}

	w := 2 * math.Pi * s.fmax / s.p.Fs
	slice := make([]complex128, length)
	phase := s.rxPhase
	derot := cmplx.Exp(complex(0, -w))
	for i := 0; i < length; i++ {
		slice[i] = s.rxBuf[start+i] * phase
		phase *= derot
	}
	s.rxPhase = phase / complex(cmplx.Abs(phase), 0)

	// The slice's trailing M+Ncp samples hold the next frame's pilot symbol;
	// its DFT lets the equaliser interpolate between the two pilot rows.
	nextTD, err := s.demod.removeCP(slice[s.p.Nmf:])
	if err != nil {
		return nil, err
	}
	latent, err := s.demod.DemodFrame(slice, s.demod.dft(nextTD), s.PhaseMagEq, false)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, 0, s.p.Nzmf*FramesPerStep)
	stride := s.p.LatentDim
	for v := 0; v < s.p.Nzmf; v++ {
		vec := latent[v*stride : (v+1)*stride]
		if s.collect != nil {
			cp := make([]float64, len(vec))
			copy(cp, vec)
			*s.collect = append(*s.collect, cp)
		}
		if s.LatentSink != nil {
			if err := s.LatentSink(vec); err != nil {
				return nil, err
			}
		}
		frames, err := s.decoder.Step(vec)
		if err != nil {
			return nil, err
		}
		out = append(out, frames...)
	}

	if s.AuxData {
		s.tallyUW(out)
	}
	s.syncedCount++

	return out, nil
}

// tallyUW thresholds the 21st feature (index 20, present when the decoder
// emits it) every uwSymbolRepeat frames and accumulates a 1-second error
// count, matching the waveform's auxiliary unique-word scheme.
func (s *SyncFsm) tallyUW(frames [][]float64) {
	for i, f := range frames {
		if len(f) <= 20 {
			continue
		}
		if i%uwSymbolRepeat != 0 {
			continue
		}
		if f[20] > 0 {
			s.uwErrors++
		}
	}
	onePerSec := int(s.p.Fs / float64(s.p.Nmf))
	if onePerSec <= 0 {
		onePerSec = 1
	}
	if s.syncedCount%onePerSec == 0 && s.syncedCount > 0 {
		if s.uwErrors > uwErrorThresh {
			s.uwFail = true
		}
		s.uwErrors = 0
	}
}

// SetWriteDtSink installs a callback that receives the D(t,f) surface of each
// DetectPilots search, for the --write-dt diagnostic.
func (s *SyncFsm) SetWriteDtSink(fn func([]FreqBin)) { s.acq.SetWriteDtSink(fn) }
