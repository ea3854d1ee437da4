package blosc

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CodecInterface defines the interface for compression codecs registered in
// the codec table behind a uniform compress/decompress adapter.
type CodecInterface interface {
	// Compress compresses data with the given level (0-9). A returned length
	// that does not improve on the source signals "did not fit" to the
	// caller, which must then fall back to storing the block as memcpy.
	Compress(data []byte, level int) ([]byte, error)

	// Decompress decompresses data to the expected size.
	Decompress(data []byte, expectedSize int) ([]byte, error)

	// Name returns the codec name.
	Name() string
}

// codecs maps codec IDs to implementations. BloscLZ's slot is filled by the
// klauspost/compress s2 codec, the closest ecosystem analogue to Blosc's own
// internal fast block codec. LZ5/LZ5HC have no ecosystem implementation and
// are registered as unavailableCodec so that lookups succeed (the id is
// recognized) but compress/decompress fail with ErrCodecUnavailable.
var codecs = map[Codec]CodecInterface{
	BloscLZ: &bloscLZCodec{},
	LZ4:     &lz4Codec{},
	LZ4HC:   &lz4hcCodec{},
	Snappy:  &snappyCodec{},
	ZLIB:    &zlibCodec{},
	ZSTD:    &zstdCodec{},
	LZ5:     &unavailableCodec{name: "lz5"},
	LZ5HC:   &unavailableCodec{name: "lz5hc"},
}

// RegisterCodec registers a custom codec implementation.
func RegisterCodec(id Codec, codec CodecInterface) {
	codecs[id] = codec
}

// GetCodec returns the codec implementation for the given ID.
func GetCodec(id Codec) (CodecInterface, bool) {
	c, ok := codecs[id]
	return c, ok
}

// ListCodecs returns all registered codec IDs.
func ListCodecs() []Codec {
	result := make([]Codec, 0, len(codecs))
	for id := range codecs {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// CodecByName resolves a codec name to its id.
func CodecByName(name string) (Codec, error) {
	for id := range codecs {
		if id.String() == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrInvalidCodec, name)
}

// CodecByID resolves a codec id to its name.
func CodecByID(id Codec) (string, error) {
	if _, ok := codecs[id]; !ok {
		return "", fmt.Errorf("%w: %d", ErrInvalidCodec, id)
	}
	return id.String(), nil
}

// ListAvailable returns a comma-joined list of available codec names, sorted
// by codec id.
func ListAvailable() string {
	names := make([]string, 0, len(codecs))
	for _, id := range ListCodecs() {
		if _, unavailable := codecs[id].(*unavailableCodec); unavailable {
			continue
		}
		names = append(names, id.String())
	}
	return strings.Join(names, ",")
}

// =============================================================================
// BloscLZ-equivalent codec (klauspost/compress/s2)
// =============================================================================

type bloscLZCodec struct{}

func (c *bloscLZCodec) Name() string { return "blosclz" }

func (c *bloscLZCodec) Compress(data []byte, level int) ([]byte, error) {
	var opts []s2.WriterOption
	if level >= 7 {
		opts = append(opts, s2.WriterBetterCompression())
	}
	if level >= 9 {
		opts = append(opts, s2.WriterBestCompression())
	}

	var buf bytes.Buffer
	w := s2.NewWriter(&buf, opts...)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("blosclz compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("blosclz compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *bloscLZCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	r := s2.NewReader(bytes.NewReader(data))
	buf := make([]byte, expectedSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("blosclz decompress: %w", err)
	}
	return buf[:n], nil
}

// =============================================================================
// LZ4 Codec
// =============================================================================

type lz4Codec struct{}

func (c *lz4Codec) Name() string { return "lz4" }

func (c *lz4Codec) Compress(data []byte, level int) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Data is incompressible; the caller detects this via length and
		// falls back to memcpy framing.
		return nil, nil
	}
	return buf[:n], nil
}

func (c *lz4Codec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	buf := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(data, buf)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return buf[:n], nil
}

// =============================================================================
// LZ4HC Codec (High Compression), shares the LZ4 library id on the wire
// since decompression requires only the library.
// =============================================================================

type lz4hcCodec struct{}

func (c *lz4hcCodec) Name() string { return "lz4hc" }

func (c *lz4hcCodec) Compress(data []byte, level int) ([]byte, error) {
	lz4Level := lz4.Fast
	switch {
	case level <= 3:
		lz4Level = lz4.Level1
	case level <= 5:
		lz4Level = lz4.Level5
	case level <= 7:
		lz4Level = lz4.Level7
	default:
		lz4Level = lz4.Level9
	}

	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	ht := make([]int, 1<<16)
	n, err := lz4.CompressBlockHC(data, buf, lz4Level, ht, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4hc compress: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

func (c *lz4hcCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	buf := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(data, buf)
	if err != nil {
		return nil, fmt.Errorf("lz4hc decompress: %w", err)
	}
	return buf[:n], nil
}

// =============================================================================
// ZLIB Codec (klauspost/compress for better performance than stdlib zlib)
// =============================================================================

type zlibCodec struct{}

func (c *zlibCodec) Name() string { return "zlib" }

func (c *zlibCodec) Compress(data []byte, level int) ([]byte, error) {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}

	var buf bytes.Buffer
	w, err := kzlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib create writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	r, err := kzlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib create reader: %w", err)
	}
	defer r.Close()

	buf := make([]byte, expectedSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("zlib read: %w", err)
	}
	return buf[:n], nil
}

// =============================================================================
// ZSTD Codec (persistent encoders/decoders for performance)
// =============================================================================

type zstdCodec struct{}

func (c *zstdCodec) Name() string { return "zstd" }

// Persistent ZSTD encoders by level, initialized once and reused forever.
// EncodeAll is concurrency-safe, so workers share these across blocks.
var zstdEncoders = func() [4]*zstd.Encoder {
	var encoders [4]*zstd.Encoder
	levels := []zstd.EncoderLevel{
		zstd.SpeedFastest,
		zstd.SpeedDefault,
		zstd.SpeedBetterCompression,
		zstd.SpeedBestCompression,
	}
	for i, level := range levels {
		e, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		encoders[i] = e
	}
	return encoders
}()

// Persistent ZSTD decoder. DecodeAll is concurrency-safe.
var zstdDecoder = func() *zstd.Decoder {
	d, _ := zstd.NewReader(nil)
	return d
}()

func (c *zstdCodec) Compress(data []byte, level int) ([]byte, error) {
	idx := 1
	switch {
	case level <= 2:
		idx = 0
	case level <= 4:
		idx = 1
	case level <= 6:
		idx = 2
	default:
		idx = 3
	}
	return zstdEncoders[idx].EncodeAll(data, nil), nil
}

func (c *zstdCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	buf, err := zstdDecoder.DecodeAll(data, make([]byte, 0, expectedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return buf, nil
}

// =============================================================================
// Snappy Codec
// =============================================================================

type snappyCodec struct{}

func (c *snappyCodec) Name() string { return "snappy" }

func (c *snappyCodec) Compress(data []byte, level int) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *snappyCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	buf := make([]byte, expectedSize)
	result, err := snappy.Decode(buf, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return result, nil
}

// =============================================================================
// unavailableCodec is a recognized but not-compiled-in codec id (LZ5/LZ5HC).
// =============================================================================

type unavailableCodec struct{ name string }

func (c *unavailableCodec) Name() string { return c.name }

func (c *unavailableCodec) Compress(data []byte, level int) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrCodecUnavailable, c.name)
}

func (c *unavailableCodec) Decompress(data []byte, expectedSize int) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrCodecUnavailable, c.name)
}
