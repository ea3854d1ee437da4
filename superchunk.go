package blosc

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// SuperChunkHeaderSize is the packed size of a super-chunk header.
const SuperChunkHeaderSize = 96

// SuperChunk is an ordered collection of standalone compressed streams that
// share compression defaults and an optional delta reference chunk. It is a
// sketch: the core operations (append, decompress, pack/unpack) are
// provided; persistence beyond an in-memory packed byte slice is out of
// scope.
type SuperChunk struct {
	Codec      Codec
	Level      int
	Shuffle    Shuffle
	TypeSize   int
	BlockSize  int
	NumThreads int

	chunks         [][]byte // each a standalone compressed stream
	chunkDeltaRefs [][]byte // per-chunk delta reference in effect at append time (nil entries allowed)
	deltaRef       []byte   // reference element that SetDeltaRef staged for the next AppendChunk
	userdata       []byte   // opaque caller metadata, carried through Pack/Unpack
}

// NewSuperChunk creates an empty super-chunk with the given shared defaults.
func NewSuperChunk(codec Codec, level int, shuffle Shuffle, typeSize int) *SuperChunk {
	return &SuperChunk{
		Codec:    codec,
		Level:    level,
		Shuffle:  shuffle,
		TypeSize: typeSize,
	}
}

// SetDeltaRef attaches a reference element used by the delta filter for the
// next chunk appended.
func (s *SuperChunk) SetDeltaRef(ref []byte) {
	s.deltaRef = append([]byte(nil), ref...)
}

// SetUserData attaches opaque caller metadata carried through Pack/Unpack.
func (s *SuperChunk) SetUserData(data []byte) {
	s.userdata = append([]byte(nil), data...)
}

// NumChunks returns the number of chunks appended so far.
func (s *SuperChunk) NumChunks() int { return len(s.chunks) }

// AppendChunk compresses data using the super-chunk's shared defaults and
// appends the resulting standalone stream.
func (s *SuperChunk) AppendChunk(data []byte) error {
	req := CompressionRequest{
		Src:        data,
		TypeSize:   s.TypeSize,
		Level:      s.Level,
		Shuffle:    s.Shuffle,
		Codec:      s.Codec,
		BlockSize:  s.BlockSize,
		NumThreads: s.NumThreads,
	}
	if s.Shuffle == Delta {
		req.DeltaRef = s.deltaRef
	}

	stream, err := compressStream(req)
	if err != nil {
		return err
	}
	s.chunks = append(s.chunks, stream)
	// Record the reference this specific chunk was compressed against: a
	// later SetDeltaRef call must not retroactively change how this chunk
	// decodes, so s.deltaRef (the "staged for next append" field) can't be
	// consulted directly at decompress time.
	s.chunkDeltaRefs = append(s.chunkDeltaRefs, req.DeltaRef)
	s.deltaRef = nil // consumed by this append
	return nil
}

// DecompressChunk decompresses chunk i.
func (s *SuperChunk) DecompressChunk(i int) ([]byte, error) {
	if i < 0 || i >= len(s.chunks) {
		return nil, fmt.Errorf("%w: chunk index %d out of range", ErrInvalidArgument, i)
	}
	return decompressStream(s.chunks[i], 0, s.NumThreads, s.chunkDeltaRefs[i])
}

// Pack serializes the super-chunk header, the userdata, and for each chunk a
// length-prefixed delta reference followed by the length-prefixed chunk
// payload, then appends an xxhash checksum of everything before it, into one
// owned byte slice.
func (s *SuperChunk) Pack() []byte {
	header := make([]byte, SuperChunkHeaderSize)
	header[0] = FormatVersion
	header[1] = byte(s.Codec)
	header[2] = byte(s.Shuffle)
	header[3] = byte(s.TypeSize)
	binary.LittleEndian.PutUint32(header[4:8], uint32(s.Level))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(s.chunks)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(s.userdata)))

	total := 0
	for i, c := range s.chunks {
		total += 4 + len(s.chunkDeltaRefs[i]) + 4 + len(c)
	}

	buf := make([]byte, 0, SuperChunkHeaderSize+len(s.userdata)+total+8)
	buf = append(buf, header...)
	buf = append(buf, s.userdata...)

	for i, c := range s.chunks {
		ref := s.chunkDeltaRefs[i]
		var refLenBuf [4]byte
		binary.LittleEndian.PutUint32(refLenBuf[:], uint32(len(ref)))
		buf = append(buf, refLenBuf[:]...)
		buf = append(buf, ref...)

		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(c)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, c...)
	}

	checksum := xxhash.Sum64(buf)
	var checksumBuf [8]byte
	binary.LittleEndian.PutUint64(checksumBuf[:], checksum)
	buf = append(buf, checksumBuf[:]...)

	return buf
}

// UnpackSuperChunk parses a super-chunk previously produced by Pack.
func UnpackSuperChunk(buf []byte) (*SuperChunk, error) {
	if len(buf) < SuperChunkHeaderSize+8 {
		return nil, fmt.Errorf("%w: super-chunk truncated", ErrInvalidData)
	}

	payload := buf[:len(buf)-8]
	wantChecksum := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if xxhash.Sum64(payload) != wantChecksum {
		return nil, fmt.Errorf("%w: super-chunk checksum mismatch", ErrInvalidData)
	}

	header := buf[:SuperChunkHeaderSize]
	if header[0] != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrInvalidVersion, header[0], FormatVersion)
	}

	s := &SuperChunk{
		Codec:    Codec(header[1]),
		Shuffle:  Shuffle(header[2]),
		TypeSize: int(header[3]),
		Level:    int(binary.LittleEndian.Uint32(header[4:8])),
	}
	nchunks := int(binary.LittleEndian.Uint32(header[8:12]))
	udataLen := int(binary.LittleEndian.Uint32(header[12:16]))

	pos := SuperChunkHeaderSize
	if pos+udataLen > len(payload) {
		return nil, fmt.Errorf("%w: super-chunk userdata truncated", ErrInvalidData)
	}
	s.userdata = append([]byte(nil), payload[pos:pos+udataLen]...)
	pos += udataLen

	s.chunks = make([][]byte, 0, nchunks)
	s.chunkDeltaRefs = make([][]byte, 0, nchunks)
	for i := 0; i < nchunks; i++ {
		if pos+4 > len(payload) {
			return nil, fmt.Errorf("%w: super-chunk chunk table truncated", ErrInvalidData)
		}
		reflen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if reflen < 0 || pos+reflen > len(payload) {
			return nil, fmt.Errorf("%w: super-chunk delta ref %d truncated", ErrInvalidData, i)
		}
		var ref []byte
		if reflen > 0 {
			ref = append([]byte(nil), payload[pos:pos+reflen]...)
		}
		pos += reflen
		s.chunkDeltaRefs = append(s.chunkDeltaRefs, ref)

		if pos+4 > len(payload) {
			return nil, fmt.Errorf("%w: super-chunk chunk table truncated", ErrInvalidData)
		}
		clen := int(binary.LittleEndian.Uint32(payload[pos : pos+4]))
		pos += 4
		if clen < 0 || pos+clen > len(payload) {
			return nil, fmt.Errorf("%w: super-chunk chunk %d truncated", ErrInvalidData, i)
		}
		chunk := append([]byte(nil), payload[pos:pos+clen]...)
		s.chunks = append(s.chunks, chunk)
		pos += clen
	}

	return s, nil
}
