package codec

import "encoding/binary"

// Uint64Codec encodes a uint64 key/value as 8 little-endian bytes. Used by
// the benchmark suite and the S1-S6 scenario tests, which all key the tree
// by integers.
var Uint64Codec = Codec[uint64]{
	Size: 8,
	Encode: func(dst []byte, v uint64) {
		binary.LittleEndian.PutUint64(dst, v)
	},
	Decode: func(src []byte) uint64 {
		return binary.LittleEndian.Uint64(src)
	},
}

// Int64Codec is Uint64Codec's signed counterpart, keeping two's-complement
// ordering consistent with Go's native int64 comparisons.
var Int64Codec = Codec[int64]{
	Size: 8,
	Encode: func(dst []byte, v int64) {
		binary.LittleEndian.PutUint64(dst, uint64(v))
	},
	Decode: func(src []byte) int64 {
		return int64(binary.LittleEndian.Uint64(src))
	},
}

// FixedBytes returns a Codec for a fixed-width []byte value of exactly n
// bytes (shorter inputs are zero-padded, longer inputs are rejected by
// panicking since the spec requires fixed-size values).
func FixedBytes(n int) Codec[[]byte] {
	return Codec[[]byte]{
		Size: n,
		Encode: func(dst []byte, v []byte) {
			if len(v) > n {
				panic("codec: value exceeds fixed width")
			}
			copy(dst, v)
			for i := len(v); i < n; i++ {
				dst[i] = 0
			}
		},
		Decode: func(src []byte) []byte {
			out := make([]byte, n)
			copy(out, src)
			return out
		},
	}
}

// FixedString returns a Codec for a fixed-width string value of exactly n
// bytes, null-padded, for callers that prefer string keys or values.
func FixedString(n int) Codec[string] {
	return Codec[string]{
		Size: n,
		Encode: func(dst []byte, v string) {
			if len(v) > n {
				panic("codec: value exceeds fixed width")
			}
			copy(dst, v)
			for i := len(v); i < n; i++ {
				dst[i] = 0
			}
		},
		Decode: func(src []byte) string {
			end := 0
			for end < len(src) && src[end] != 0 {
				end++
			}
			return string(src[:end])
		},
	}
}
