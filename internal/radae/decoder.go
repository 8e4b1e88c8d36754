package radae

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// FramesPerStep is the number of 10ms feature frames the external decoder
// produces per latent vector step.
const FramesPerStep = 4

// Decoder is the external, stateful neural collaborator. The receiver treats
// it as a black box: Reset re-initialises hidden state on every
// candidate-to-sync transition, and Step consumes one latent vector and
// returns the feature frames it decodes to.
type Decoder interface {
	Reset()
	Step(latent []float64) ([][]float64, error)
}

// NullDecoder is a pass-through Decoder used by unit tests that exercise the
// FSM/demodulator without a real network: it copies the leading values of
// the latent vector (at most 36) into each 36-float feature frame and
// zero-pads the rest.
type NullDecoder struct {
	latentDim int
}

// NewNullDecoder builds a NullDecoder for the given latent width.
func NewNullDecoder(latentDim int) *NullDecoder { return &NullDecoder{latentDim: latentDim} }

func (n *NullDecoder) Reset() {}

func (n *NullDecoder) Step(latent []float64) ([][]float64, error) {
	frames := make([][]float64, FramesPerStep)
	for i := range frames {
		f := make([]float64, 36)
		copy(f, latent)
		frames[i] = f
	}
	return frames, nil
}

// modelMagic identifies a serialized decoder weight file understood by
// FileDecoder. The real waveform's decoder is a multi-layer GRU network
// (out of scope here); FileDecoder is a linear stand-in behind the same
// Decoder interface so the CLI's model-path argument has somewhere to point
// without pulling in a tensor runtime.
const modelMagic = "RADAEW1\x00"

// outFeatures is the feature-frame width the decoder always produces (20
// vocoder features plus 16 reserved zeros).
const outFeatures = 36

// FileDecoder loads a serialized weight matrix and bias vector and applies
// one linear projection per latent vector, then lightly damps the result
// across frames with a single-pole IIR so consecutive output frames aren't
// bit-identical — the nearest stand-in for "stateful collaborator" a linear
// model can offer. Reset zeroes that IIR state.
type FileDecoder struct {
	latentDim int
	weight    [][]float64 // [outFeatures][latentDim]
	bias      []float64   // [outFeatures]
	state     []float64   // [outFeatures], carried across Step calls
}

// LoadFileDecoder reads a model file of the form:
//
//	magic [8]byte, latentDim int32LE, outDim int32LE,
//	weight [outDim*latentDim]float32LE, bias [outDim]float32LE
//
// and fails fast if the magic, dimensions, or
// file length don't match.
func LoadFileDecoder(path string, latentDim int) (*FileDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("radae: open model file: %w", err)
	}
	defer f.Close()

	hdr := make([]byte, len(modelMagic)+8)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("radae: model file too short for header: %w", err)
	}
	if string(hdr[:len(modelMagic)]) != modelMagic {
		return nil, fmt.Errorf("radae: model file has wrong magic, not a radae decoder weight file")
	}
	off := len(modelMagic)
	fileLatentDim := int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	fileOutDim := int(int32(binary.LittleEndian.Uint32(hdr[off+4:])))
	if fileLatentDim != latentDim {
		return nil, fmt.Errorf("radae: model file latent_dim %d != configured %d", fileLatentDim, latentDim)
	}
	if fileOutDim != outFeatures {
		return nil, fmt.Errorf("radae: model file out_dim %d != expected %d", fileOutDim, outFeatures)
	}

	flat := make([]byte, (fileOutDim*fileLatentDim+fileOutDim)*4)
	if _, err := io.ReadFull(f, flat); err != nil {
		return nil, fmt.Errorf("radae: model file truncated weights: %w", err)
	}

	d := &FileDecoder{
		latentDim: latentDim,
		weight:    make([][]float64, fileOutDim),
		bias:      make([]float64, fileOutDim),
		state:     make([]float64, fileOutDim),
	}
	pos := 0
	readF32 := func() float64 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(flat[pos:]))
		pos += 4
		return float64(v)
	}
	for o := 0; o < fileOutDim; o++ {
		d.weight[o] = make([]float64, fileLatentDim)
		for l := 0; l < fileLatentDim; l++ {
			d.weight[o][l] = readF32()
		}
	}
	for o := 0; o < fileOutDim; o++ {
		d.bias[o] = readF32()
	}
	return d, nil
}

// Reset zeroes the decoder's carried IIR state, called on every
// candidate->sync transition.
func (d *FileDecoder) Reset() {
	for i := range d.state {
		d.state[i] = 0
	}
}

const decoderIIRAlpha = 0.7

// Step projects one latent vector through the loaded weight matrix and
// returns FramesPerStep feature frames, each a further-damped step of the
// projection toward its steady-state value.
func (d *FileDecoder) Step(latent []float64) ([][]float64, error) {
	if len(latent) != d.latentDim {
		return nil, fmt.Errorf("radae: decoder step: latent length %d != latent_dim %d", len(latent), d.latentDim)
	}
	target := make([]float64, outFeatures)
	for o := 0; o < outFeatures; o++ {
		var acc float64
		row := d.weight[o]
		for l, v := range latent {
			acc += row[l] * v
		}
		target[o] = acc + d.bias[o]
	}

	frames := make([][]float64, FramesPerStep)
	for i := 0; i < FramesPerStep; i++ {
		for o := range d.state {
			d.state[o] = decoderIIRAlpha*d.state[o] + (1-decoderIIRAlpha)*target[o]
		}
		frame := make([]float64, outFeatures)
		copy(frame, d.state)
		frames[i] = frame
	}
	return frames, nil
}
