// Package blosc provides a pure Go implementation of a blocked, shuffled,
// multi-threaded compression format for binary numeric data.
//
// Blosc splits its input into cache-friendly blocks, optionally applies a
// shuffle/bitshuffle/delta preconditioner to each block to concentrate
// entropy, and then runs a conventional byte-stream codec (BloscLZ, LZ4,
// LZ4HC, Zlib, Zstd, Snappy) on every block. Blocks are compressed and
// decompressed in parallel by a worker pool sized to the caller's thread
// count.
//
// # Basic Usage
//
//	compressed, err := blosc.Compress(data, blosc.LZ4, 5, blosc.Shuffle1, 4)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	decompressed, err := blosc.Decompress(compressed)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Shuffle Modes
//
//   - NoShuffle: no preprocessing
//   - Shuffle1: byte shuffle, groups bytes by position within elements
//   - BitShuffle: bit-level shuffle for maximum compression of typed data
//   - Delta: element-wise difference against the previous element
//
// # Supported Codecs
//
//   - BloscLZ: Blosc's own fast block codec
//   - LZ4 / LZ4HC: very fast compression, LZ4HC trades speed for ratio
//   - ZSTD: high compression ratio with good speed
//   - ZLIB: standard deflate compression
//   - Snappy: Google's fast compression codec
//
// # Thread Safety
//
// The contextual API (Compress, Decompress, CompressWithOptions, CompressCtx,
// DecompressCtx, GetItem) is safe for concurrent use from multiple goroutines
// on disjoint buffers. The global default-context API (Init, SetNThreads,
// SetCompressor, SetBlockSize, CompressDefault, DecompressDefault, ...)
// mutates process-wide state under a single mutex.
package blosc

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Version constants.
const (
	Version       = "2.0.0"
	FormatVersion = 2 // container format version
)

// MaxBufferSize bounds nbytes so that nbytes+HeaderSize never exceeds the
// largest int32 (2^31-1).
const MaxBufferSize = (1<<31 - 1) - HeaderSize

// Codec identifies the compression algorithm. Ids are fixed across
// implementations so that wire streams produced by any conforming
// implementation agree on which integer means which library.
type Codec uint8

const (
	BloscLZ Codec = iota // Blosc's own fast codec
	LZ4                  // LZ4 compression
	LZ4HC                // LZ4 High Compression (shares the LZ4 library id on the wire)
	Snappy               // Snappy compression
	ZLIB                 // ZLIB/deflate compression
	ZSTD                 // Zstandard compression
	LZ5                  // not available in this build
	LZ5HC                // not available in this build
)

// String returns the codec name.
func (c Codec) String() string {
	switch c {
	case BloscLZ:
		return "blosclz"
	case LZ4:
		return "lz4"
	case LZ4HC:
		return "lz4hc"
	case Snappy:
		return "snappy"
	case ZLIB:
		return "zlib"
	case ZSTD:
		return "zstd"
	case LZ5:
		return "lz5"
	case LZ5HC:
		return "lz5hc"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Shuffle selects the filter applied to each block before compression.
type Shuffle uint8

const (
	NoShuffle  Shuffle = 0x0 // no filter
	Shuffle1   Shuffle = 0x1 // byte shuffle
	BitShuffle Shuffle = 0x2 // bit shuffle
	Delta      Shuffle = 0x3 // element-wise delta
)

// String returns the shuffle mode name.
func (s Shuffle) String() string {
	switch s {
	case NoShuffle:
		return "noshuffle"
	case Shuffle1:
		return "shuffle"
	case BitShuffle:
		return "bitshuffle"
	case Delta:
		return "delta"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Flag bits in the container header.
const (
	flagShuffle      = 0x1 // byte shuffle applied
	flagMemcpy       = 0x2 // every block stored uncompressed
	flagBitShuffle   = 0x4 // bit shuffle applied
	flagSchunkFilter = 0x8 // an out-of-band filter (delta) follows the offset table
)

// Header size constants.
const (
	HeaderSize    = 16 // container header size in bytes
	MinHeaderSize = 16
)

// Predefined errors for common failure conditions, checkable with errors.Is.
var (
	ErrInvalidData         = errors.New("blosc: invalid compressed data")
	ErrInvalidHeader       = errors.New("blosc: invalid header")
	ErrInvalidVersion      = errors.New("blosc: unsupported format version")
	ErrInvalidCodec        = errors.New("blosc: unsupported codec")
	ErrSizeMismatch        = errors.New("blosc: decompressed size mismatch")
	ErrDataTooLarge        = errors.New("blosc: data too large")
	ErrCompressionFailed   = errors.New("blosc: compression failed")
	ErrDecompressionFailed = errors.New("blosc: decompression failed")
	ErrInvalidArgument     = errors.New("blosc: invalid argument")
	ErrCodecUnavailable    = errors.New("blosc: codec unavailable")
	ErrOffsetOutOfRange    = errors.New("blosc: offset table entry out of range")
	ErrResourceExhausted   = errors.New("blosc: thread pool exhausted")
)

// Options configures Blosc compression behavior. Every field is explicit;
// no process state is consulted.
type Options struct {
	Codec      Codec   // compression codec
	Level      int     // compression level (0-9, higher = better compression)
	Shuffle    Shuffle // filter mode
	TypeSize   int     // element size in bytes for shuffle/delta
	BlockSize  int     // block size in bytes (0 = automatic heuristic)
	NumThreads int     // worker count (0 = GOMAXPROCS)
}

// DefaultOptions returns default compression options.
func DefaultOptions() Options {
	return Options{
		Codec:     LZ4,
		Level:     5,
		Shuffle:   Shuffle1,
		TypeSize:  4,
		BlockSize: 0,
	}
}

// Compress compresses data using the contextual API: codec, level, shuffle
// and typeSize are explicit and no process state is touched.
func Compress(data []byte, codec Codec, level int, shuffle Shuffle, typeSize int) ([]byte, error) {
	opts := Options{
		Codec:    codec,
		Level:    level,
		Shuffle:  shuffle,
		TypeSize: typeSize,
	}
	return CompressWithOptions(data, opts)
}

// CompressWithOptions compresses data using the given options.
func CompressWithOptions(data []byte, opts Options) ([]byte, error) {
	if opts.TypeSize <= 0 {
		opts.TypeSize = 1
	}
	if opts.Level < 0 {
		opts.Level = 0
	}
	if opts.Level > 9 {
		opts.Level = 9
	}

	return compressStream(CompressionRequest{
		Src:        data,
		TypeSize:   opts.TypeSize,
		Level:      opts.Level,
		Shuffle:    opts.Shuffle,
		Codec:      opts.Codec,
		BlockSize:  opts.BlockSize,
		NumThreads: opts.NumThreads,
	})
}

// CompressCtx is the explicit stateless entry point: every knob the
// scheduler needs is a parameter.
func CompressCtx(data []byte, codec Codec, level int, shuffle Shuffle, typeSize, blockSize, nthreads int) ([]byte, error) {
	return CompressWithOptions(data, Options{
		Codec:      codec,
		Level:      level,
		Shuffle:    shuffle,
		TypeSize:   typeSize,
		BlockSize:  blockSize,
		NumThreads: nthreads,
	})
}

// Decompress decompresses a Blosc-compressed stream, using the typeSize and
// thread count recorded in the stream / GOMAXPROCS respectively.
func Decompress(data []byte) ([]byte, error) {
	return decompressStream(data, 0, 0, nil)
}

// DecompressWithSize decompresses with an explicit typeSize override. The
// shuffle/bitshuffle inverse is applied against this typeSize instead of the
// one recorded in the header.
func DecompressWithSize(data []byte, typeSize int) ([]byte, error) {
	return decompressStream(data, typeSize, 0, nil)
}

// DecompressCtx is the explicit stateless entry point: every knob the
// scheduler needs is a parameter.
func DecompressCtx(data []byte, typeSize, nthreads int) ([]byte, error) {
	return decompressStream(data, typeSize, nthreads, nil)
}

// GetItem reads nitems elements starting at item index start without
// decompressing the whole stream.
func GetItem(data []byte, start, nitems int) ([]byte, error) {
	return getItem(data, start, nitems)
}

// GetInfo returns the parsed header of a compressed stream without
// decompressing it.
func GetInfo(data []byte) (*Header, error) {
	return ParseHeader(data)
}

// GetDecompressedSize returns the original size of compressed data.
func GetDecompressedSize(data []byte) (int, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return 0, err
	}
	return int(header.NBytesOrig), nil
}

// ListCompressors returns a comma-joined list of available codec names.
func ListCompressors() string { return ListAvailable() }

// CompCodeToCompName maps a codec id to its name.
func CompCodeToCompName(id Codec) (string, error) { return CodecByID(id) }

// CompNameToCompCode maps a codec name to its id.
func CompNameToCompCode(name string) (Codec, error) { return CodecByName(name) }

// GetComplibInfo returns static version info for a codec library. There is a
// single compiled-in version per codec in this implementation, so the
// "runtime" and "compile-time" versions always agree.
func GetComplibInfo(name string) (version string, err error) {
	id, err := CodecByName(name)
	if err != nil {
		return "", err
	}
	if _, ok := codecs[id].(*unavailableCodec); ok {
		return "", fmt.Errorf("%w: %s", ErrCodecUnavailable, name)
	}
	return Version, nil
}

// Context holds process-wide default compression settings, mutated by the
// global API (Init, SetNThreads, SetCompressor, SetBlockSize, SetSchunk,
// FreeResources) and consulted by CompressDefault/DecompressDefault. All
// mutations and reads go through mu. CompressDefault with an attached
// super-chunk holds mu for the whole call; CompressDefault without one, and
// DecompressDefault, hold it only while copying the settings and release it
// before compressing or decompressing. GetItemDefault does not take mu.
type Context struct {
	mu          sync.Mutex
	initialized bool
	codec       Codec
	blockSize   int
	nthreads    int
	schunk      *SuperChunk
}

// defaultContext is the process-wide default context the global API mutates.
var defaultContext = &Context{
	codec:    LZ4,
	nthreads: runtime.GOMAXPROCS(0),
}

// Init initializes the default context's thread pool sizing. Safe to call
// more than once; later calls are no-ops until Destroy.
func Init() {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	if defaultContext.initialized {
		return
	}
	defaultContext.initialized = true
	if defaultContext.nthreads <= 0 {
		defaultContext.nthreads = runtime.GOMAXPROCS(0)
	}
}

// Destroy tears down the default context. A subsequent Init re-initializes it.
func Destroy() {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	defaultContext.initialized = false
}

// FreeResources releases any pooled resources held by the default context.
// The scratch buffers live in a process-wide sync.Pool that the runtime
// reclaims under memory pressure on its own, so this is a hint rather than a
// hard guarantee.
func FreeResources() {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	blockScratchPool = sync.Pool{New: blockScratchPool.New}
}

// SetNThreads sets the default context's thread count and returns the
// previous value.
func SetNThreads(n int) int {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	prev := defaultContext.nthreads
	if n < 1 {
		n = 1
	}
	defaultContext.nthreads = n
	return prev
}

// SetCompressor sets the default context's codec by name and returns its id.
func SetCompressor(name string) (Codec, error) {
	id, err := CodecByName(name)
	if err != nil {
		return 0, err
	}
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	defaultContext.codec = id
	return id, nil
}

// SetBlockSize forces the default context's blocksize; 0 restores the
// automatic heuristic.
func SetBlockSize(sz int) {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	defaultContext.blockSize = sz
}

// SetSchunk attaches a super-chunk to the default context. Once attached,
// CompressDefault appends each call's data to it as a new chunk instead of
// producing a standalone stream with no chunk history. Before appending, it
// overwrites the super-chunk's codec, blocksize and thread count with the
// default context's, and its level/shuffle/typeSize with the call's
// arguments; the chunk uses the delta reference SetDeltaRef staged for it,
// if any. Pass nil to detach.
func SetSchunk(s *SuperChunk) {
	defaultContext.mu.Lock()
	defer defaultContext.mu.Unlock()
	defaultContext.schunk = s
}

// CompressDefault compresses data using the default context's codec,
// blocksize and thread count, with level/shuffle/typeSize passed explicitly.
// If a super-chunk is attached via SetSchunk, the data is appended to it as a
// new chunk and the chunk's stream is returned.
func CompressDefault(data []byte, level int, shuffle Shuffle, typeSize int) ([]byte, error) {
	defaultContext.mu.Lock()

	if schunk := defaultContext.schunk; schunk != nil {
		// A super-chunk is not itself safe for concurrent appends, so this
		// branch holds the process-wide mutex for the whole call rather than
		// releasing it after the snapshot, serializing every CompressDefault
		// call against the one attached schunk.
		defer defaultContext.mu.Unlock()
		schunk.Codec = defaultContext.codec
		schunk.Level = level
		schunk.Shuffle = shuffle
		schunk.TypeSize = typeSize
		schunk.BlockSize = defaultContext.blockSize
		schunk.NumThreads = defaultContext.nthreads
		if err := schunk.AppendChunk(data); err != nil {
			return nil, err
		}
		return schunk.chunks[schunk.NumChunks()-1], nil
	}

	opts := Options{
		Codec:      defaultContext.codec,
		Level:      level,
		Shuffle:    shuffle,
		TypeSize:   typeSize,
		BlockSize:  defaultContext.blockSize,
		NumThreads: defaultContext.nthreads,
	}
	defaultContext.mu.Unlock()

	return CompressWithOptions(data, opts)
}

// DecompressDefault decompresses data using the default context's thread
// count.
func DecompressDefault(data []byte) ([]byte, error) {
	defaultContext.mu.Lock()
	nthreads := defaultContext.nthreads
	defaultContext.mu.Unlock()

	return decompressStream(data, 0, nthreads, nil)
}

// GetItemDefault reads items from a stream using the default context, for
// parity with the ctx-carrying GetItem.
func GetItemDefault(data []byte, start, nitems int) ([]byte, error) {
	return getItem(data, start, nitems)
}
