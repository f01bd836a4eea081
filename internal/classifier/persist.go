// internal/classifier/persist.go
package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/user/shadowshift/internal/types"
)

// File layout: magic, 32-byte blake3 of the payload, zstd-compressed CBOR blob.
var magic = []byte("SSMODEL1")

const checksumSize = 32

// ErrCorruptModel is returned when a model file fails its checksum or decodes
// to an inconsistent model.
var ErrCorruptModel = errors.New("corrupt model file")

type blob struct {
	NgramMin  int              `cbor:"1,keyasint"`
	NgramMax  int              `cbor:"2,keyasint"`
	Neighbors int              `cbor:"3,keyasint"`
	MaxDF     float64          `cbor:"4,keyasint"`
	Vocab     map[string]int32 `cbor:"5,keyasint"`
	IDF       []float64        `cbor:"6,keyasint"`
	Rows      []sparse         `cbor:"7,keyasint"`
	Labels    []types.Action   `cbor:"8,keyasint"`
	Digest    string           `cbor:"9,keyasint,omitempty"`
	FittedAt  int64            `cbor:"10,keyasint"`
}

var (
	encMode     cbor.EncMode
	decMode     cbor.DecMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("classifier: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("classifier: cbor decoder: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("classifier: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("classifier: zstd decoder: " + err.Error())
	}
}

// Encode serializes a fitted model.
func (m *Model) Encode() ([]byte, error) {
	if !m.Fitted() {
		return nil, types.ErrNotFitted
	}
	b := blob{
		NgramMin:  m.opts.NgramMin,
		NgramMax:  m.opts.NgramMax,
		Neighbors: m.opts.Neighbors,
		MaxDF:     m.opts.MaxDF,
		Vocab:     m.vec.Vocab,
		IDF:       m.vec.IDF,
		Rows:      m.rows,
		Labels:    m.labels,
		Digest:    m.digest,
		FittedAt:  m.fittedAt.UnixNano(),
	}
	raw, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	payload := zstdEncoder.EncodeAll(raw, nil)
	sum := blake3.Sum256(payload)

	out := make([]byte, 0, len(magic)+checksumSize+len(payload))
	out = append(out, magic...)
	out = append(out, sum[:]...)
	out = append(out, payload...)
	return out, nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (*Model, error) {
	if len(data) < len(magic)+checksumSize || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptModel)
	}
	sum := data[len(magic) : len(magic)+checksumSize]
	payload := data[len(magic)+checksumSize:]
	got := blake3.Sum256(payload)
	if !bytes.Equal(sum, got[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptModel)
	}

	raw, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptModel, err)
	}
	var b blob
	if err := decMode.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCorruptModel, err)
	}

	m := &Model{
		opts: Options{NgramMin: b.NgramMin, NgramMax: b.NgramMax, Neighbors: b.Neighbors, MaxDF: b.MaxDF},
		vec: &vectorizer{
			NgramMin: b.NgramMin,
			NgramMax: b.NgramMax,
			MaxDF:    b.MaxDF,
			Vocab:    b.Vocab,
			IDF:      b.IDF,
		},
		rows:     b.Rows,
		labels:   b.Labels,
		digest:   b.Digest,
		fittedAt: time.Unix(0, b.FittedAt).UTC(),
	}
	if m.vec.Vocab == nil {
		m.vec.Vocab = map[string]int32{}
	}
	if !m.Fitted() || len(b.IDF) != len(b.Vocab) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrCorruptModel, len(b.Rows), len(b.Labels))
	}
	return m, nil
}

// Save writes the model to path atomically.
func (m *Model) Save(path string) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename model file: %w", err)
	}
	return nil
}

// Load reads a model saved with Save.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Decode(data)
}
