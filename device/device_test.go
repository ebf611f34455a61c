package device_test

import (
	"testing"

	"github.com/sigrok-go/fx2lafw/device"
	"github.com/sigrok-go/fx2lafw/profile"
)

func fx2Instance() *device.Instance {
	return &device.Instance{
		Profile: &profile.Profile{VendorID: 0x04B4, ProductID: 0x8613, Caps: profile.Cap16Bit},
		Acquisition: device.AcquisitionContext{
			Samplerates: profile.FX2Samplerates,
			Samplerate:  profile.FX2Samplerates[0],
		},
	}
}

func TestConfigureChannelsSampleWide(t *testing.T) {
	inst := fx2Instance()
	channels := []device.Channel{
		{Index: 0, Enabled: true},
		{Index: 8, Enabled: true},
	}
	if err := inst.ConfigureChannels(channels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inst.Acquisition.SampleWide {
		t.Errorf("expected sample_wide true when channel 8 is enabled")
	}
}

func TestConfigureChannelsRejectsWideOnNarrowProfile(t *testing.T) {
	inst := fx2Instance()
	inst.Profile.Caps = 0
	channels := []device.Channel{{Index: 8, Enabled: true}}
	if err := inst.ConfigureChannels(channels); err == nil {
		t.Error("expected an error for a 16-bit channel on an 8-bit-only profile")
	}
}

func TestConfigureChannelsTriggerMaskValue(t *testing.T) {
	inst := fx2Instance()
	channels := []device.Channel{
		{Index: 0, Enabled: true, TriggerPattern: "1"},
		{Index: 1, Enabled: true, TriggerPattern: "0"},
		{Index: 2, Enabled: true},
	}
	if err := inst.ConfigureChannels(channels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Acquisition.Software.Mask[0] != 0b011 {
		t.Errorf("expected mask 0b011, got %03b", inst.Acquisition.Software.Mask[0])
	}
	if inst.Acquisition.Software.Value[0] != 0b001 {
		t.Errorf("expected value 0b001, got %03b", inst.Acquisition.Software.Value[0])
	}
}

func TestConfigureChannelsMultiStageTriggerPattern(t *testing.T) {
	inst := fx2Instance()
	channels := []device.Channel{
		{Index: 0, Enabled: true, TriggerPattern: "10"},
		{Index: 1, Enabled: true, TriggerPattern: "01"},
	}
	if err := inst.ConfigureChannels(channels); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.Acquisition.Software.Mask[0] != 0b011 || inst.Acquisition.Software.Value[0] != 0b001 {
		t.Errorf("stage 0: got mask %03b value %03b, want mask 011 value 001",
			inst.Acquisition.Software.Mask[0], inst.Acquisition.Software.Value[0])
	}
	if inst.Acquisition.Software.Mask[1] != 0b011 || inst.Acquisition.Software.Value[1] != 0b010 {
		t.Errorf("stage 1: got mask %03b value %03b, want mask 011 value 010",
			inst.Acquisition.Software.Mask[1], inst.Acquisition.Software.Value[1])
	}
	if inst.Acquisition.Software.Mask[2] != 0 {
		t.Errorf("stage 2 should be untouched, got mask %03b", inst.Acquisition.Software.Mask[2])
	}
}

func TestStatusString(t *testing.T) {
	cases := map[device.Status]string{
		device.Initializing: "Initializing",
		device.Inactive:     "Inactive",
		device.Active:       "Active",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestGetSetSamplerate(t *testing.T) {
	inst := fx2Instance()
	if err := inst.Set(device.OptSamplerate, profile.FX2Samplerates[3]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := inst.Get(device.OptSamplerate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.(uint64) != profile.FX2Samplerates[3] {
		t.Errorf("expected %d, got %v", profile.FX2Samplerates[3], got)
	}
}

func TestSetSamplerateRejectsUnsupported(t *testing.T) {
	inst := fx2Instance()
	if err := inst.Set(device.OptSamplerate, uint64(7_000_000)); err == nil {
		t.Error("expected an error for an unsupported samplerate")
	}
}

func TestDSLogicOnlyOptionsRejectedOnFX2(t *testing.T) {
	inst := fx2Instance()
	if _, err := inst.Get(device.OptDeviceMode); err != device.ErrNotApplicable {
		t.Errorf("expected ErrNotApplicable, got %v", err)
	}
	if err := inst.Set(device.OptExternalClock, true); err != device.ErrNotApplicable {
		t.Errorf("expected ErrNotApplicable, got %v", err)
	}
}

func TestDSLogicOnlyOptionsAllowedOnDSLogic(t *testing.T) {
	inst := fx2Instance()
	inst.Acquisition.DSLogic = true
	if err := inst.Set(device.OptDeviceMode, "Oscilloscope"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := inst.Get(device.OptDeviceMode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.(string) != "Oscilloscope" {
		t.Errorf("expected Oscilloscope, got %v", got)
	}
}

func TestUnknownOption(t *testing.T) {
	inst := fx2Instance()
	if _, err := inst.Get("NOT_A_REAL_KEY"); err != device.ErrUnknownOption {
		t.Errorf("expected ErrUnknownOption, got %v", err)
	}
}
