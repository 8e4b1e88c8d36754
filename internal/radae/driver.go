package radae

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"
)

// DriverConfig collects the knobs exposed on the CLI.
type DriverConfig struct {
	Fs            float64
	LatentDim     int
	Nzmf          int
	Bottleneck    Bottleneck
	CyclicPrefix  float64
	NoBPF         bool
	AuxData       bool
	DisableUnsync bool
	FoffErr       float64
	PhaseMagEq    bool
}

// DefaultDriverConfig matches the waveform's published defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Fs:           8000,
		LatentDim:    80,
		Nzmf:         3,
		Bottleneck:   Bottleneck3,
		CyclicPrefix: 0.004,
	}
}

// Driver reads complex samples from an input stream, advances a SyncFsm, and
// writes decoded feature frames to an output stream.
type Driver struct {
	params *Params
	fsm    *SyncFsm
	log    zerolog.Logger
}

// NewDriver constructs a Driver from a configuration and decoder, wiring a
// BandPassFilter unless disabled.
func NewDriver(cfg DriverConfig, decoder Decoder, log zerolog.Logger) (*Driver, error) {
	p, err := NewParams(cfg.Fs, cfg.LatentDim, cfg.Nzmf, cfg.Bottleneck, cfg.CyclicPrefix)
	if err != nil {
		return nil, err
	}
	var bpf *BandPassFilter
	if !cfg.NoBPF {
		bpf = NewBandPassFilter(p)
	}
	fsm := NewSyncFsm(p, decoder, bpf)
	fsm.AuxData = cfg.AuxData
	fsm.DisableUnsync = cfg.DisableUnsync
	fsm.FoffErr = cfg.FoffErr
	fsm.PhaseMagEq = cfg.PhaseMagEq
	fsm.Log = log
	return &Driver{params: p, fsm: fsm, log: log}, nil
}

// Params exposes the derived OFDM parameters, e.g. for wiring a StatusSink or
// the --write-dt diagnostic before Run starts.
func (d *Driver) Params() *Params { return d.params }

// Fsm exposes the underlying state machine, e.g. to set a StatusSink.
func (d *Driver) Fsm() *SyncFsm { return d.fsm }

// readComplex reads n complex64 samples (interleaved float32 Re/Im pairs)
// from r, returning the complete samples read. A short final read is
// treated as clean EOF.
func readComplex(r io.Reader, n int) ([]complex128, error) {
	buf := make([]byte, n*8)
	read, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	got := read / 8
	out := make([]complex128, got)
	for i := 0; i < got; i++ {
		re := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*8+4:]))
		out[i] = complex(float64(re), float64(im))
	}
	if got < n {
		return out, io.EOF
	}
	return out, nil
}

// writeFeatures writes one 36-float feature frame as little-endian float32s.
func writeFeatures(w io.Writer, frame []float64) error {
	buf := make([]byte, len(frame)*4)
	for i, f := range frame {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	_, err := w.Write(buf)
	return err
}

// Run drives the read-demod-write loop until in reaches EOF, a strictly
// synchronous, FIFO-ordered pipeline.
func (d *Driver) Run(in io.Reader, out io.Writer) error {
	for {
		n := d.fsm.NextReadLen()
		samples, err := readComplex(in, n)
		if len(samples) < n {
			return nil // clean EOF, §7
		}
		frames, ferr := d.fsm.Feed(samples)
		if ferr != nil {
			return fmt.Errorf("radae: demodulation failed: %w", ferr)
		}
		for _, f := range frames {
			if werr := writeFeatures(out, f); werr != nil {
				return fmt.Errorf("radae: writing features: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// RunCollectingLatents drives the read-demod loop exactly like Run, but
// instead of calling the decoder's output into out, it accumulates each
// recovered latent vector and returns them once in reaches EOF, for
// --ber-test comparison against a reference latent log.
func (d *Driver) RunCollectingLatents(in io.Reader) ([][]float64, error) {
	var collected [][]float64
	d.fsm.collect = &collected
	defer func() { d.fsm.collect = nil }()

	for {
		n := d.fsm.NextReadLen()
		samples, err := readComplex(in, n)
		if len(samples) < n {
			return collected, nil
		}
		if _, ferr := d.fsm.Feed(samples); ferr != nil {
			return collected, fmt.Errorf("radae: demodulation failed: %w", ferr)
		}
		if err == io.EOF {
			return collected, nil
		}
	}
}

// AcqTestResult is the report produced by RunAcqTest (--acq-test).
type AcqTestResult struct {
	FramesSearched int
	FmaxTarget     float64
	FmaxAchieved   float64
	LockedAtFrame  int // -1 if never reached sync
}

// RunAcqTest drives the FSM with acquisition/tracking active but discards
// demodulated output, reporting how closely the achieved frequency offset
// matched fmaxTarget and how many frames it took to reach sync.
func (d *Driver) RunAcqTest(in io.Reader, fmaxTarget float64, maxFrames int) (AcqTestResult, error) {
	res := AcqTestResult{FmaxTarget: fmaxTarget, LockedAtFrame: -1}
	for res.FramesSearched < maxFrames {
		n := d.fsm.NextReadLen()
		samples, err := readComplex(in, n)
		if len(samples) < n {
			break
		}
		if _, ferr := d.fsm.Feed(samples); ferr != nil {
			return res, ferr
		}
		res.FramesSearched++
		res.FmaxAchieved = d.fsm.fmax
		if d.fsm.State() == StateSync && res.LockedAtFrame < 0 {
			res.LockedAtFrame = res.FramesSearched
		}
		if err == io.EOF {
			break
		}
	}
	return res, nil
}
