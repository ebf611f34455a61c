package util_test

import (
	"fmt"
	"testing"

	"github.com/sigrok-go/fx2lafw/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func ExampleSetBit16_msb() {
	out := util.SetBit16(0, 15, true)
	fmt.Printf("%016b\n", out)
	// Output: 1000000000000000
}

func TestGetBit16RoundTrip(t *testing.T) {
	var w uint16
	for i := uint(0); i < 16; i++ {
		w = util.SetBit16(w, i, true)
	}
	for i := uint(0); i < 16; i++ {
		if !util.GetBit16(w, i) {
			t.Errorf("bit %d expected set", i)
		}
	}
	w = util.SetBit16(w, 3, false)
	if util.GetBit16(w, 3) {
		t.Errorf("bit 3 expected clear after SetBit16(false)")
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f, got %f", input, low, clamped)
	}
}

func TestMergeErrorsNilOnEmpty(t *testing.T) {
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMergeErrorsJoins(t *testing.T) {
	err := util.MergeErrors([]error{fmt.Errorf("a"), nil, fmt.Errorf("b")})
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if err.Error() != "a\nb" {
		t.Errorf("expected %q, got %q", "a\nb", err.Error())
	}
}
