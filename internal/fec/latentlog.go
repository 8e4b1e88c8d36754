package fec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// LatentBlockFrames is the number of latent vectors grouped into one
// Reed-Solomon-protected block of a recorded latent log (--write-latent,
// --ber-test). Grouping amortises RS's shard overhead across many latent
// vectors instead of paying it per vector.
const LatentBlockFrames = DefaultDataShards

// LatentLogWriter incrementally records latent vectors to an io.Writer in
// fixed-size blocks, each closed out with Reed-Solomon parity shards and a
// CRC32 of the encoded block. The last, partial block is zero-padded and
// encoded the same way on Close. The reader detects a corrupted block (it
// fails parity verification) or a truncated one; it does not repair either.
type LatentLogWriter struct {
	w         io.Writer
	latentDim int
	rs        *RSEncoder
	pending   [][]byte // raw float32-LE-encoded vectors awaiting a block flush
}

// NewLatentLogWriter creates a writer for latentDim-wide real vectors.
func NewLatentLogWriter(w io.Writer, latentDim int) (*LatentLogWriter, error) {
	rs, err := NewRSEncoderCustom(LatentBlockFrames, DefaultParityShards)
	if err != nil {
		return nil, fmt.Errorf("latentlog: %w", err)
	}
	return &LatentLogWriter{w: w, latentDim: latentDim, rs: rs}, nil
}

// WriteVector appends one latent vector, flushing a protected block once
// LatentBlockFrames vectors have accumulated.
func (l *LatentLogWriter) WriteVector(v []float64) error {
	if len(v) != l.latentDim {
		return fmt.Errorf("latentlog: vector length %d != latentDim %d", len(v), l.latentDim)
	}
	raw := make([]byte, l.latentDim*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(f)))
	}
	l.pending = append(l.pending, raw)
	if len(l.pending) == LatentBlockFrames {
		return l.flushBlock()
	}
	return nil
}

func (l *LatentLogWriter) flushBlock() error {
	if len(l.pending) == 0 {
		return nil
	}
	shardLen := l.latentDim * 4
	data := make([]byte, 0, len(l.pending)*shardLen)
	for _, raw := range l.pending {
		data = append(data, raw...)
	}
	// Pad the final, possibly-short block up to a full RS block; the
	// reader knows the true vector count from the block header.
	count := len(l.pending)
	full := make([]byte, LatentBlockFrames*shardLen)
	copy(full, data)

	encoded, err := l.rs.Encode(full)
	if err != nil {
		return fmt.Errorf("latentlog: encode block: %w", err)
	}

	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(count))
	binary.BigEndian.PutUint32(hdr[4:8], CRC32(encoded))
	if _, err := l.w.Write(hdr); err != nil {
		return err
	}
	if _, err := l.w.Write(encoded); err != nil {
		return err
	}
	l.pending = l.pending[:0]
	return nil
}

// Close flushes any partially-filled final block.
func (l *LatentLogWriter) Close() error {
	return l.flushBlock()
}

// LatentLogReader reads back a log written by LatentLogWriter, reconstructing
// each block via Reed-Solomon before decoding vectors.
type LatentLogReader struct {
	r         io.Reader
	latentDim int
	rs        *RSEncoder
}

// NewLatentLogReader creates a reader for latentDim-wide vectors.
func NewLatentLogReader(r io.Reader, latentDim int) (*LatentLogReader, error) {
	rs, err := NewRSEncoderCustom(LatentBlockFrames, DefaultParityShards)
	if err != nil {
		return nil, fmt.Errorf("latentlog: %w", err)
	}
	return &LatentLogReader{r: r, latentDim: latentDim, rs: rs}, nil
}

// ReadBlock reads and reconstructs the next block, returning the vectors it
// held. It returns io.EOF when the stream is exhausted.
func (l *LatentLogReader) ReadBlock() ([][]float64, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(l.r, hdr); err != nil {
		return nil, err
	}
	count := int(binary.BigEndian.Uint32(hdr[0:4]))
	wantCRC := binary.BigEndian.Uint32(hdr[4:8])

	shardLen := l.latentDim * 4
	total := (LatentBlockFrames + DefaultParityShards) * shardLen
	encoded := make([]byte, total)
	if _, err := io.ReadFull(l.r, encoded); err != nil {
		return nil, fmt.Errorf("latentlog: short block: %w", err)
	}

	if CRC32(encoded) != wantCRC {
		// The block bytes changed after writing; Decode's parity check
		// reports the corruption as an error (no shard is marked missing,
		// so nothing is reconstructed).
		decoded, err := l.rs.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("latentlog: block failed CRC and RS recovery: %w", err)
		}
		return unpackVectors(decoded, count, l.latentDim)
	}

	decoded, err := l.rs.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("latentlog: decode block: %w", err)
	}
	return unpackVectors(decoded, count, l.latentDim)
}

func unpackVectors(data []byte, count, latentDim int) ([][]float64, error) {
	shardLen := latentDim * 4
	if len(data) < count*shardLen {
		return nil, fmt.Errorf("latentlog: decoded block too short")
	}
	out := make([][]float64, count)
	for i := 0; i < count; i++ {
		vec := make([]float64, latentDim)
		row := data[i*shardLen : (i+1)*shardLen]
		for j := 0; j < latentDim; j++ {
			bits := binary.LittleEndian.Uint32(row[j*4:])
			vec[j] = float64(math.Float32frombits(bits))
		}
		out[i] = vec
	}
	return out, nil
}
