package blosc

// shuffleBytes performs the byte-level shuffle (transpose) preconditioner.
//
// For an array of nelem = len(src)/typeSize elements of typeSize bytes each,
// the output groups all first bytes of every element, then all second bytes,
// and so on; any trailing bytes (len(src) % typeSize) are appended unshuffled.
//
// Example for 4-byte elements [A0 A1 A2 A3] [B0 B1 B2 B3] [C0 C1 C2 C3]:
// after shuffle: [A0 B0 C0] [A1 B1 C1] [A2 B2 C2] [A3 B3 C3].
func shuffleBytes(src []byte, typeSize int) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	for i := 0; i < nelem; i++ {
		for j := 0; j < typeSize; j++ {
			dst[j*nelem+i] = src[i*typeSize+j]
		}
	}

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// unshuffleBytes reverses shuffleBytes.
func unshuffleBytes(src []byte, typeSize int) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	for i := 0; i < nelem; i++ {
		for j := 0; j < typeSize; j++ {
			dst[i*typeSize+j] = src[j*nelem+i]
		}
	}

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// bitShuffle performs the bit-level shuffle preconditioner.
//
// The block is viewed as nelem = len(src)/typeSize elements of typeSize*8
// bits each. Elements are processed in groups of 8: within a group, bit b
// (counting from the LSB, b=0..7) of byte k of element i becomes bit
// (7-i) of output byte k*8+(7-b) of the group. This groups same-significance
// bits across 8 consecutive elements into single bytes, exposing bit-level
// redundancy that a byte-oriented codec can then exploit.
//
// Elements that don't form a full group of 8, and any trailing bytes that
// don't form a full element, are copied through unshuffled. A partial
// group cannot be transposed reversibly.
func bitShuffle(src []byte, typeSize int) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	const groupSize = 8
	ngroups := nelem / groupSize

	for g := 0; g < ngroups; g++ {
		base := g * groupSize * typeSize

		for k := 0; k < typeSize; k++ {
			var lane [groupSize]byte
			for i := 0; i < groupSize; i++ {
				lane[i] = src[base+i*typeSize+k]
			}

			for b := 0; b < 8; b++ {
				var out byte
				for i := 0; i < groupSize; i++ {
					if lane[i]&(1<<uint(b)) != 0 {
						out |= 1 << uint(7-i)
					}
				}
				dst[base+k*8+(7-b)] = out
			}
		}
	}

	tail := ngroups * groupSize * typeSize
	copy(dst[tail:nelem*typeSize], src[tail:nelem*typeSize])

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// bitUnshuffle reverses bitShuffle.
func bitUnshuffle(src []byte, typeSize int) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	const groupSize = 8
	ngroups := nelem / groupSize

	for g := 0; g < ngroups; g++ {
		base := g * groupSize * typeSize

		for k := 0; k < typeSize; k++ {
			var lane [groupSize]byte
			for b := 0; b < 8; b++ {
				lane[b] = src[base+k*8+(7-b)]
			}

			for i := 0; i < groupSize; i++ {
				var out byte
				for b := 0; b < 8; b++ {
					if lane[b]&(1<<uint(7-i)) != 0 {
						out |= 1 << uint(b)
					}
				}
				dst[base+i*typeSize+k] = out
			}
		}
	}

	tail := ngroups * groupSize * typeSize
	copy(dst[tail:nelem*typeSize], src[tail:nelem*typeSize])

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// deltaEncode emits e[i] - e[i-1] element-wise (unsigned wraparound, per byte
// lane) against ref, the logical predecessor of src's first element. ref may
// be nil or of the wrong length, which is treated as a zero element.
func deltaEncode(src []byte, typeSize int, ref []byte) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	prev := make([]byte, typeSize)
	if len(ref) == typeSize {
		copy(prev, ref)
	}

	for i := 0; i < nelem; i++ {
		e := src[i*typeSize : (i+1)*typeSize]
		for j := 0; j < typeSize; j++ {
			dst[i*typeSize+j] = e[j] - prev[j]
		}
		prev = e
	}

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// deltaDecode reverses deltaEncode.
func deltaDecode(src []byte, typeSize int, ref []byte) []byte {
	if typeSize <= 1 || len(src) < typeSize {
		dst := make([]byte, len(src))
		copy(dst, src)
		return dst
	}

	n := len(src)
	nelem := n / typeSize
	dst := make([]byte, n)

	prev := make([]byte, typeSize)
	if len(ref) == typeSize {
		copy(prev, ref)
	}

	for i := 0; i < nelem; i++ {
		d := src[i*typeSize : (i+1)*typeSize]
		out := dst[i*typeSize : (i+1)*typeSize]
		for j := 0; j < typeSize; j++ {
			out[j] = d[j] + prev[j]
		}
		prev = out
	}

	if rem := n % typeSize; rem > 0 {
		copy(dst[nelem*typeSize:], src[nelem*typeSize:])
	}

	return dst
}

// ShuffleBuffer performs shuffle in-place on a buffer.
func ShuffleBuffer(data []byte, typeSize int, mode Shuffle) {
	var result []byte
	switch mode {
	case Shuffle1:
		result = shuffleBytes(data, typeSize)
	case BitShuffle:
		result = bitShuffle(data, typeSize)
	default:
		return
	}
	copy(data, result)
}

// UnshuffleBuffer performs unshuffle in-place on a buffer.
func UnshuffleBuffer(data []byte, typeSize int, mode Shuffle) {
	var result []byte
	switch mode {
	case Shuffle1:
		result = unshuffleBytes(data, typeSize)
	case BitShuffle:
		result = bitUnshuffle(data, typeSize)
	default:
		return
	}
	copy(data, result)
}

// applyFilter runs the forward filter selected by mode, silently degrading to
// NoShuffle when typeSize makes the filter inapplicable (outside [1,255], or
// below 2 for shuffle/bitshuffle). It does not check the block size.
func applyFilter(mode Shuffle, data []byte, typeSize int, deltaRef []byte) ([]byte, Shuffle) {
	if typeSize < 1 || typeSize > 255 {
		return data, NoShuffle
	}

	// Remainder bytes (len(data) % typeSize) are handled reversibly by the
	// shuffle/bitshuffle/delta implementations themselves (trailing
	// passthrough), so no additional degrade-on-remainder check belongs
	// here: the container records one shuffle mode for the whole stream,
	// and decompression's unapplyFilter must see the same mode this
	// function chose for every block, including a ragged final block.
	switch mode {
	case Shuffle1:
		if typeSize < 2 {
			return data, NoShuffle
		}
		return shuffleBytes(data, typeSize), Shuffle1
	case BitShuffle:
		if typeSize < 2 {
			return data, NoShuffle
		}
		return bitShuffle(data, typeSize), BitShuffle
	case Delta:
		return deltaEncode(data, typeSize, deltaRef), Delta
	default:
		return data, NoShuffle
	}
}

// unapplyFilter runs the inverse filter for mode.
func unapplyFilter(mode Shuffle, data []byte, typeSize int, deltaRef []byte) []byte {
	switch mode {
	case Shuffle1:
		return unshuffleBytes(data, typeSize)
	case BitShuffle:
		return bitUnshuffle(data, typeSize)
	case Delta:
		return deltaDecode(data, typeSize, deltaRef)
	default:
		return data
	}
}
