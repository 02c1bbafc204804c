package u32

import "math/bits"

// Hamming counts differing bits between two word vectors of equal length.
func Hamming(a, b []uint32) (r float32) {
	var n int
	for i := range a {
		n += bits.OnesCount32(a[i] ^ b[i])
	}
	return float32(n)
}

// Hamming4 is Hamming unrolled over four words, used when the CPU has POPCNT.
func Hamming4(a, b []uint32) float32 {
	var n0, n1, n2, n3 int
	i := 0
	for ; i+4 <= len(a); i += 4 {
		n0 += bits.OnesCount32(a[i] ^ b[i])
		n1 += bits.OnesCount32(a[i+1] ^ b[i+1])
		n2 += bits.OnesCount32(a[i+2] ^ b[i+2])
		n3 += bits.OnesCount32(a[i+3] ^ b[i+3])
	}
	for ; i < len(a); i++ {
		n0 += bits.OnesCount32(a[i] ^ b[i])
	}
	return float32(n0 + n1 + n2 + n3)
}

// Jaccard returns 1 - |a&b| / |a|b| over set bits. Two all-zero vectors are identical.
func Jaccard(a, b []uint32) float32 {
	var inter, union int
	for i := range a {
		inter += bits.OnesCount32(a[i] & b[i])
		union += bits.OnesCount32(a[i] | b[i])
	}
	if union == 0 {
		return 0
	}
	return 1 - float32(inter)/float32(union)
}
