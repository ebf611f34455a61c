package protocol_test

import (
	"testing"

	"github.com/sigrok-go/fx2lafw/protocol"
)

func TestSelectClock1MHz(t *testing.T) {
	clock, delay, err := protocol.SelectClock(1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clock != 48_000_000 {
		t.Errorf("expected 48MHz clock, got %d", clock)
	}
	if delay != 47 {
		t.Errorf("expected delay 47, got %d", delay)
	}
}

func TestStartPayload16BitAtLimit(t *testing.T) {
	if _, err := protocol.StartPayload(12_000_000, true); err != nil {
		t.Errorf("expected 12MHz 16-bit sampling to be accepted, got %v", err)
	}
}

func TestStartPayload16BitAboveLimit(t *testing.T) {
	if _, err := protocol.StartPayload(24_000_000, true); err == nil {
		t.Errorf("expected 24MHz 16-bit sampling to be rejected")
	}
}

func TestSelectClockUnrepresentable(t *testing.T) {
	// neither 48MHz nor 30MHz divides evenly by 7MHz.
	if _, _, err := protocol.SelectClock(7_000_000); err != protocol.ErrSamplerateUnsupported {
		t.Errorf("expected ErrSamplerateUnsupported, got %v", err)
	}
}

func TestDivider(t *testing.T) {
	if got := protocol.Divider(25_000_000); got != 4 {
		t.Errorf("expected divider 4 for 25MHz, got %d", got)
	}
	// non-exact ratio rounds up (ceil).
	if got := protocol.Divider(3_000_000); got != 34 {
		t.Errorf("expected divider 34 for 3MHz, got %d", got)
	}
}

func TestTrigPos(t *testing.T) {
	if got := protocol.TrigPos(50, 1000); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestSettingCountPayload(t *testing.T) {
	setting := protocol.NewDSLogicSetting()
	wire, err := setting.Marshal()
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	count := protocol.SettingCountPayload(len(wire))
	gotCount := uint32(count[0]) | uint32(count[1])<<8 | uint32(count[2])<<16
	if int(gotCount)*2 != len(wire) {
		t.Errorf("setting count %d words does not cover %d marshaled bytes", gotCount, len(wire))
	}
}

func TestDSLogicSettingMarshalFixedHeaders(t *testing.T) {
	setting := protocol.NewDSLogicSetting()
	wire, err := setting.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// sync is the first 4 bytes, little-endian 0xFFFFFFFF.
	for i := 0; i < 4; i++ {
		if wire[i] != 0xFF {
			t.Errorf("byte %d of sync: got %#x, want 0xff", i, wire[i])
		}
	}
}

func TestUnmarshalTriggerPosResponseShort(t *testing.T) {
	if _, err := protocol.UnmarshalTriggerPosResponse(make([]byte, 4)); err == nil {
		t.Errorf("expected error for too-short buffer")
	}
}
