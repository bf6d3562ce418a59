package pack

import (
	"github.com/git-core/gitcore/internal/gitkind"
)

// MaxDepth bounds delta chain length, spec.md §4.2.
const MaxDepth = 50

const maxCopyLen = 0xffff

// deltaEncodeSize writes a LEB128 (little-endian base-128) size, used for
// the two size fields at the head of every delta: source size and target
// size.
func deltaEncodeSize(n int) []byte {
	var out []byte
	c := n & 0x7f
	n >>= 7
	for n != 0 {
		out = append(out, byte(c|0x80))
		c = n & 0x7f
		n >>= 7
	}
	out = append(out, byte(c))
	return out
}

func deltaDecodeSize(b []byte) (size int, rest []byte) {
	shift := uint(0)
	for i, c := range b {
		size |= int(c&0x7f) << shift
		if c&0x80 == 0 {
			return size, b[i+1:]
		}
		shift += 7
	}
	return size, nil
}

// PatchDelta applies delta to src and returns the reconstructed target
// bytes, per the instruction stream described in spec.md §4.2: each
// instruction byte's top bit selects copy (offset+size from the following
// 0..7 bytes, bitmapped by the low 7 bits) or insert (literal N bytes,
// N = the instruction byte itself, 1..127).
func PatchDelta(src, delta []byte) ([]byte, error) {
	if len(delta) < 2 {
		return nil, gitkind.New(gitkind.Corrupt, "pack: delta too short")
	}

	srcSize, delta := deltaDecodeSize(delta)
	if srcSize != len(src) {
		return nil, gitkind.New(gitkind.Corrupt, "pack: delta base size mismatch")
	}
	targetSize, delta := deltaDecodeSize(delta)

	dst := make([]byte, 0, targetSize)

	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		if cmd&0x80 != 0 {
			var offset, size int
			if cmd&0x01 != 0 {
				offset = int(delta[0])
				delta = delta[1:]
			}
			if cmd&0x02 != 0 {
				offset |= int(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x04 != 0 {
				offset |= int(delta[0]) << 16
				delta = delta[1:]
			}
			if cmd&0x08 != 0 {
				offset |= int(delta[0]) << 24
				delta = delta[1:]
			}
			if cmd&0x10 != 0 {
				size = int(delta[0])
				delta = delta[1:]
			}
			if cmd&0x20 != 0 {
				size |= int(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x40 != 0 {
				size |= int(delta[0]) << 16
				delta = delta[1:]
			}
			if size == 0 {
				size = 0x10000
			}
			if offset+size > len(src) {
				return nil, gitkind.New(gitkind.Corrupt, "pack: delta copy out of range")
			}
			dst = append(dst, src[offset:offset+size]...)
		} else if cmd != 0 {
			n := int(cmd)
			if n > len(delta) {
				return nil, gitkind.New(gitkind.Corrupt, "pack: delta insert out of range")
			}
			dst = append(dst, delta[:n]...)
			delta = delta[n:]
		} else {
			return nil, gitkind.New(gitkind.Corrupt, "pack: delta command 0 is reserved")
		}
	}

	if len(dst) != targetSize {
		return nil, gitkind.New(gitkind.Corrupt, "pack: delta result size mismatch")
	}
	return dst, nil
}

// DiffDelta builds a delta transforming base into target. Unlike git's
// multi-window matcher, this core implementation only exploits a common
// prefix and a common suffix between base and target: it always produces
// a correct delta (PatchDelta(base, DiffDelta(base, target)) == target),
// just not always a minimal one. See DESIGN.md for why this tradeoff was
// taken over porting the teacher's full sequence-matcher.
func DiffDelta(base, target []byte) []byte {
	out := deltaEncodeSize(len(base))
	out = append(out, deltaEncodeSize(len(target))...)

	prefix := commonPrefixLen(base, target)
	// Reserve the prefix bytes from also being claimed by the suffix match.
	maxSuffix := len(base) - prefix
	if m := len(target) - prefix; m < maxSuffix {
		maxSuffix = m
	}
	suffix := commonSuffixLen(base[prefix:], target[prefix:], maxSuffix)

	out = append(out, encodeCopyRun(0, prefix)...)

	midStart, midEnd := prefix, len(target)-suffix
	for o := midStart; o < midEnd; {
		n := midEnd - o
		if n > 127 {
			n = 127
		}
		out = append(out, byte(n))
		out = append(out, target[o:o+n]...)
		o += n
	}

	out = append(out, encodeCopyRun(len(base)-suffix, suffix)...)

	return out
}

// encodeCopyRun emits copy instructions for a run of length bytes starting
// at offset, splitting it into maxCopyLen-sized chunks since each copy
// instruction's size field is at most 3 bytes (spec.md §4.2 default
// 0x10000, here bounded to maxCopyLen so the field is always explicit).
func encodeCopyRun(offset, length int) []byte {
	var out []byte
	for length > 0 {
		n := length
		if n > maxCopyLen {
			n = maxCopyLen
		}
		out = append(out, encodeCopy(offset, n)...)
		offset += n
		length -= n
	}
	return out
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []byte, max int) int {
	i := 0
	for i < max && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

func encodeCopy(offset, length int) []byte {
	var ops []byte
	code := byte(0x80)

	if offset&0xff != 0 {
		ops = append(ops, byte(offset))
		code |= 0x01
	}
	if offset&0xff00 != 0 {
		ops = append(ops, byte(offset>>8))
		code |= 0x02
	}
	if offset&0xff0000 != 0 {
		ops = append(ops, byte(offset>>16))
		code |= 0x04
	}
	if offset&0xff000000 != 0 {
		ops = append(ops, byte(offset>>24))
		code |= 0x08
	}

	if length&0xff != 0 {
		ops = append(ops, byte(length))
		code |= 0x10
	}
	if length&0xff00 != 0 {
		ops = append(ops, byte(length>>8))
		code |= 0x20
	}
	if length&0xff0000 != 0 {
		ops = append(ops, byte(length>>16))
		code |= 0x40
	}

	return append([]byte{code}, ops...)
}
