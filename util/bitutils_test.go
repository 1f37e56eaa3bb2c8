package util

import "testing"

func TestIsPowerOfTwo(t *testing.T) {
	for _, v := range []int64{1, 2, 1024, 2048, 16384, 65536} {
		if !IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%d) = false, want true", v)
		}
	}
	for _, v := range []int64{0, -2, 3, 1000, 4097} {
		if IsPowerOfTwo(v) {
			t.Errorf("IsPowerOfTwo(%d) = true, want false", v)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[int64]int64{0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 4096: 4096}
	for in, want := range cases {
		if got := NextPowerOfTwo(in); got != want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}
