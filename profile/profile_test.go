package profile_test

import (
	"testing"

	"github.com/sigrok-go/fx2lafw/profile"
)

func TestMatchPreFirmwareDSLogic(t *testing.T) {
	p, err := profile.Match(0x2A0E, 0x0001, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model != "DSLogic" || !p.DSLogic {
		t.Errorf("expected pre-upload DSLogic profile, got %+v", p)
	}
}

func TestMatchDSLogicVsSaleaeCollision(t *testing.T) {
	manufacturer := "DreamSourceLab"
	product := "DSLogic"
	p, err := profile.Match(0x0925, 0x3881, &manufacturer, &product)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Vendor != "DreamSourceLab" {
		t.Errorf("expected DreamSourceLab to win string-disambiguated match, got %+v", p)
	}

	saleaeManufacturer := "Saleae"
	saleaeProduct := "Logic"
	p2, err := profile.Match(0x0925, 0x3881, &saleaeManufacturer, &saleaeProduct)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p2.Vendor != "Saleae" {
		t.Errorf("expected Saleae profile for mismatched strings, got %+v", p2)
	}
}

func TestMatchNoneFound(t *testing.T) {
	if _, err := profile.Match(0xffff, 0xffff, nil, nil); err != profile.ErrProfileMismatch {
		t.Errorf("expected ErrProfileMismatch, got %v", err)
	}
}

func TestIsFirmwareLoaded(t *testing.T) {
	cases := []struct {
		manufacturer, product string
		want                  bool
	}{
		{"sigrok", "fx2lafw", true},
		{"DreamSourceLab", "DSLogic", true},
		{"Cypress Semiconductor", "CY7C68013A", false},
		{"sigrok", "DSLogic", true},
	}
	for _, c := range cases {
		if got := profile.IsFirmwareLoaded(c.manufacturer, c.product); got != c.want {
			t.Errorf("IsFirmwareLoaded(%q, %q) = %v, want %v", c.manufacturer, c.product, got, c.want)
		}
	}
}
