package blosc

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// CompressionRequest is the immutable input to one compression call.
type CompressionRequest struct {
	Src        []byte
	TypeSize   int
	Level      int
	Shuffle    Shuffle
	Codec      Codec
	BlockSize  int    // 0 selects the automatic heuristic
	NumThreads int    // 0 selects GOMAXPROCS
	DeltaRef   []byte // reference element for block 0's delta filter; nil means zero
}

// blockScratchPool reuses per-worker scratch buffers across blocks within a
// call; scratch buffers here are uniformly block-sized.
var blockScratchPool = sync.Pool{
	New: func() any { return make([]byte, 0, 256*1024) },
}

func getScratch(n int) []byte {
	buf := blockScratchPool.Get().([]byte)
	if cap(buf) < n {
		buf = make([]byte, n)
		return buf
	}
	return buf[:n]
}

func putScratch(buf []byte) {
	blockScratchPool.Put(buf[:0]) //nolint:staticcheck // retained for reuse, length reset deliberately
}

// runParallel runs fn(i) for i in [0,n) using up to nthreads workers,
// stopping dispatch of new work on the first error. Cancellation is
// cooperative at block boundaries, so in-flight work finishes but its
// output is discarded. nthreads<=1 (or n<=1) runs synchronously.
func runParallel(nthreads, n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	if nthreads <= 0 {
		nthreads = runtime.GOMAXPROCS(0)
	}
	if nthreads > n {
		nthreads = n
	}

	if nthreads <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var nextIdx atomic.Int64
	var aborted atomic.Bool
	var once sync.Once
	var firstErr error
	var wg sync.WaitGroup

	wg.Add(nthreads)
	for w := 0; w < nthreads; w++ {
		go func() {
			defer wg.Done()
			for {
				if aborted.Load() {
					return
				}
				i := int(nextIdx.Add(1)) - 1
				if i >= n {
					return
				}
				if err := fn(i); err != nil {
					aborted.Store(true)
					once.Do(func() { firstErr = err })
					return
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// compressOneBlock implements the forward block pipeline: filter -> codec ->
// framed output. It returns the framed slot bytes (either a raw
// logical-size copy, or a uint32 length prefix plus codec payload).
func compressOneBlock(src []byte, typeSize, level int, shuffleMode Shuffle, codec Codec, deltaRef []byte, forceMemcpy bool) ([]byte, error) {
	if forceMemcpy {
		out := getScratch(len(src))
		copy(out, src)
		return out, nil
	}

	filtered, _ := applyFilter(shuffleMode, src, typeSize, deltaRef)

	c, ok := codecs[codec]
	if !ok {
		return nil, fmt.Errorf("%w: codec id %d", ErrInvalidCodec, codec)
	}

	compressed, err := c.Compress(filtered, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}

	// A fitting codec result is always strictly smaller than blockSize-4;
	// anything else (nil, or too large to be worth the length prefix) falls
	// back to a raw memcpy slot whose length equals the logical block size
	// exactly. That equality is how decompression tells the two framings
	// apart. The slot is drawn from the scratch pool: its contents are
	// copied into the assembled stream by the caller, which then returns it
	// via putScratch.
	if compressed == nil || len(compressed)+4 >= len(src) {
		// The raw fallback slot carries the *filtered* bytes, not the
		// original src: decompression always runs unapplyFilter over a
		// block's raw contents using the stream-wide shuffle mode, with no
		// per-block flag to say "this one was never filtered".
		out := getScratch(len(filtered))
		copy(out, filtered)
		return out, nil
	}

	out := getScratch(4 + len(compressed))
	binary.LittleEndian.PutUint32(out, uint32(len(compressed)))
	copy(out[4:], compressed)
	return out, nil
}

// decompressOneBlock implements the reverse block pipeline. slot is the raw
// bytes of the block's container slot; logicalSize is the expected
// uncompressed size of this block.
func decompressOneBlock(slot []byte, logicalSize, typeSize int, shuffleMode Shuffle, codec Codec, deltaRef []byte) ([]byte, error) {
	var raw []byte

	if len(slot) == logicalSize {
		raw = make([]byte, logicalSize)
		copy(raw, slot)
	} else {
		if len(slot) < 4 {
			return nil, fmt.Errorf("%w: block slot too small for length prefix", ErrInvalidData)
		}
		csize := int(binary.LittleEndian.Uint32(slot[:4]))
		if csize < 0 || 4+csize > len(slot) {
			return nil, fmt.Errorf("%w: block csize out of range", ErrInvalidData)
		}
		c, ok := codecs[codec]
		if !ok {
			return nil, fmt.Errorf("%w: codec id %d", ErrInvalidCodec, codec)
		}
		decompressed, err := c.Decompress(slot[4:4+csize], logicalSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		if len(decompressed) != logicalSize {
			return nil, fmt.Errorf("%w: got %d, expected %d", ErrSizeMismatch, len(decompressed), logicalSize)
		}
		raw = decompressed
	}

	return unapplyFilter(shuffleMode, raw, typeSize, deltaRef), nil
}

// compressStream runs the full blocked compression pipeline: compute layout,
// dispatch blocks in parallel, assemble the self-describing container.
func compressStream(req CompressionRequest) ([]byte, error) {
	if len(req.Src) == 0 {
		return nil, ErrInvalidData
	}
	if req.TypeSize < 1 || req.TypeSize > 255 {
		return nil, fmt.Errorf("%w: typesize %d out of [1,255]", ErrInvalidArgument, req.TypeSize)
	}
	if len(req.Src) > MaxBufferSize {
		return nil, fmt.Errorf("%w: nbytes exceeds MaxBufferSize", ErrDataTooLarge)
	}
	if _, ok := codecs[req.Codec]; !ok {
		return nil, fmt.Errorf("%w: codec id %d", ErrInvalidCodec, req.Codec)
	}

	level := req.Level
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}

	layout, err := NewBlockLayout(len(req.Src), req.TypeSize, level, req.BlockSize)
	if err != nil {
		return nil, err
	}

	shuffleMode := req.Shuffle
	if shuffleMode == Shuffle1 || shuffleMode == BitShuffle {
		if req.TypeSize < 2 || layout.BlockSize%req.TypeSize != 0 {
			shuffleMode = NoShuffle // silently disabled when the element grid doesn't fit
		}
	}

	// nbytes < typesize*100 is the memcpy-block threshold heuristic; clevel==0
	// always forces it too. Forcing memcpy also forces NoShuffle:
	// compressOneBlock's forced-memcpy path stores src
	// verbatim without running applyFilter, so the header's recorded
	// shuffle mode must agree or decompression would unfilter raw bytes
	// that were never filtered.
	allMemcpy := level == 0 || len(req.Src) < req.TypeSize*100
	if allMemcpy {
		shuffleMode = NoShuffle
	}

	hasFilterByte := shuffleMode == Delta
	tableLen := 4 * layout.NBlocks
	filterLen := 0
	if hasFilterByte {
		filterLen = filterPipelineSize
	}
	prefixLen := HeaderSize + tableLen + filterLen

	slots := make([][]byte, layout.NBlocks)

	err = runParallel(req.NumThreads, layout.NBlocks, func(i int) error {
		start := i * layout.BlockSize
		end := start + layout.LogicalSize(i)
		blockSrc := req.Src[start:end]

		var ref []byte
		if shuffleMode == Delta {
			if i == 0 {
				ref = req.DeltaRef // nil unless a super-chunk delta reference is set
			} else {
				prevStart := start - req.TypeSize
				if prevStart >= 0 {
					ref = req.Src[prevStart:start]
				}
			}
		}

		slot, err := compressOneBlock(blockSrc, req.TypeSize, level, shuffleMode, req.Codec, ref, allMemcpy)
		if err != nil {
			return err
		}
		slots[i] = slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	totalBlocks := 0
	for _, s := range slots {
		totalBlocks += len(s)
	}
	cbytes := prefixLen + totalBlocks

	flags := uint8(0)
	switch shuffleMode {
	case Shuffle1:
		flags |= flagShuffle
	case BitShuffle:
		flags |= flagBitShuffle
	case Delta:
		flags |= flagSchunkFilter
	}
	if allMemcpy {
		flags |= flagMemcpy
	}

	// HC variants decode with their base library, so the header records the
	// library id rather than the HC variant's codec id.
	wireCodec := req.Codec
	switch req.Codec {
	case LZ4HC:
		wireCodec = LZ4
	case LZ5HC:
		wireCodec = LZ5
	}

	header := Header{
		Version:    FormatVersion,
		VersionLZ:  uint8(wireCodec),
		Flags:      flags,
		TypeSize:   uint8(req.TypeSize),
		NBytesOrig: uint32(len(req.Src)),
		BlockSize:  uint32(layout.BlockSize),
		NBytesComp: uint32(cbytes),
	}

	out := make([]byte, cbytes)
	copy(out[:HeaderSize], header.Bytes())

	offsets := make([]int32, layout.NBlocks)
	pos := prefixLen
	for i, s := range slots {
		offsets[i] = int32(pos)
		copy(out[pos:], s)
		pos += len(s)
		putScratch(s)
	}
	copy(out[HeaderSize:HeaderSize+tableLen], offsetTableBytes(offsets))
	if hasFilterByte {
		out[HeaderSize+tableLen] = byte(Delta)
	}

	return out, nil
}

// decompressStream runs the full blocked decompression pipeline: parse and
// validate the container, dispatch per-block decompression in parallel, and
// reassemble the logical buffer. deltaRef supplies block 0's delta reference
// for a chunk chained onto a predecessor; nil means "zero element", the
// ordinary case for a standalone stream.
func decompressStream(stream []byte, typeSizeOverride, nthreads int, deltaRef []byte) ([]byte, error) {
	p, err := parseContainer(stream)
	if err != nil {
		return nil, err
	}

	typeSize := int(p.header.TypeSize)
	if typeSizeOverride > 0 {
		typeSize = typeSizeOverride
	}

	out := make([]byte, p.header.NBytesOrig)
	codec := Codec(p.header.VersionLZ)

	// The delta filter's reference chain makes block i's decode depend on
	// block i-1's decoded output, so parallel dispatch would race; fall
	// back to the synchronous path for delta streams: delta is the one case
	// where thread count affects anything about the result.
	effectiveThreads := nthreads
	if p.shuffle == Delta {
		effectiveThreads = 1
	}

	err = runParallel(effectiveThreads, p.layout.NBlocks, func(i int) error {
		start, end := p.slotBounds(i)
		if start < 0 || end > len(p.blocks) || start > end {
			return fmt.Errorf("%w: block %d slot out of range", ErrOffsetOutOfRange, i)
		}
		slot := p.blocks[start:end]
		logical := p.layout.LogicalSize(i)

		var ref []byte
		if p.shuffle == Delta {
			if i == 0 {
				ref = deltaRef
			} else {
				blkStart := i * p.layout.BlockSize
				refStart := blkStart - typeSize
				if refStart >= 0 && refStart+typeSize <= len(out) {
					ref = out[refStart : refStart+typeSize]
				}
			}
		}

		decoded, err := decompressOneBlock(slot, logical, typeSize, p.shuffle, codec, ref)
		if err != nil {
			return err
		}
		if len(decoded) != logical {
			return fmt.Errorf("%w: block %d: got %d, expected %d", ErrSizeMismatch, i, len(decoded), logical)
		}
		copy(out[i*p.layout.BlockSize:i*p.layout.BlockSize+logical], decoded)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// getItem decompresses only the blocks that cover
// [start*typesize, (start+nitems)*typesize) and copies out the requested
// slice. It is always single-threaded.
func getItem(stream []byte, start, nitems int) ([]byte, error) {
	p, err := parseContainer(stream)
	if err != nil {
		return nil, err
	}

	typeSize := int(p.header.TypeSize)
	if start < 0 || nitems < 0 {
		return nil, fmt.Errorf("%w: negative start/nitems", ErrInvalidArgument)
	}

	byteStart := start * typeSize
	byteEnd := (start + nitems) * typeSize
	if byteEnd > int(p.header.NBytesOrig) {
		return nil, fmt.Errorf("%w: item range exceeds buffer", ErrInvalidArgument)
	}

	if nitems == 0 {
		return []byte{}, nil
	}

	codec := Codec(p.header.VersionLZ)
	result := make([]byte, nitems*typeSize)

	firstBlock := byteStart / p.layout.BlockSize
	lastBlock := 0
	if byteEnd > 0 {
		lastBlock = (byteEnd - 1) / p.layout.BlockSize
	}

	for i := firstBlock; i <= lastBlock; i++ {
		blkStart, blkEnd := p.slotBounds(i)
		if blkStart < 0 || blkEnd > len(p.blocks) || blkStart > blkEnd {
			return nil, fmt.Errorf("%w: block %d slot out of range", ErrOffsetOutOfRange, i)
		}
		logical := p.layout.LogicalSize(i)

		var ref []byte
		if p.shuffle == Delta && i > 0 {
			// Block i's delta reference is the last typeSize bytes of block
			// i-1's decoded output, which in turn depends on block i-2's,
			// and so on back to the stream start: getitem over a
			// delta-filtered stream must decode the whole prefix run,
			// carrying the running reference forward one block at a time.
			for j := 0; j < i; j++ {
				js, je := p.slotBounds(j)
				prevDecoded, err := decompressOneBlock(p.blocks[js:je], p.layout.LogicalSize(j), typeSize, p.shuffle, codec, ref)
				if err != nil {
					return nil, err
				}
				ref = prevDecoded[len(prevDecoded)-typeSize:]
			}
		}

		decoded, err := decompressOneBlock(p.blocks[blkStart:blkEnd], logical, typeSize, p.shuffle, codec, ref)
		if err != nil {
			return nil, err
		}

		blockLogicalStart := i * p.layout.BlockSize
		copyStart := byteStart - blockLogicalStart
		if copyStart < 0 {
			copyStart = 0
		}
		copyEnd := byteEnd - blockLogicalStart
		if copyEnd > logical {
			copyEnd = logical
		}
		if copyStart >= copyEnd {
			continue
		}

		destOff := blockLogicalStart + copyStart - byteStart
		copy(result[destOff:destOff+(copyEnd-copyStart)], decoded[copyStart:copyEnd])
	}

	return result, nil
}
