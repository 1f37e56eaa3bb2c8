package util

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= v.
func NextPowerOfTwo(v int64) int64 {
	if v <= 1 {
		return 1
	}
	p := int64(1)
	for p < v {
		p <<= 1
	}
	return p
}
