package acquisition_test

import (
	"sync"
	"testing"

	"github.com/sigrok-go/fx2lafw/acquisition"
)

func TestComputeBufferSizing1MHz8Bit(t *testing.T) {
	sizing := acquisition.ComputeBufferSizing(1_000_000, 1, false, false, false)
	if sizing.Size != 10240 {
		t.Errorf("expected size 10240, got %d", sizing.Size)
	}
	if sizing.NumTransfers != 32 {
		t.Errorf("expected 32 transfers, got %d", sizing.NumTransfers)
	}
	if sizing.TimeoutMS != 409 {
		t.Errorf("expected 409ms timeout, got %d", sizing.TimeoutMS)
	}
}

func TestComputeBufferSizingDSLogicAnalog(t *testing.T) {
	sizing := acquisition.ComputeBufferSizing(1_000_000, 1, true, true, false)
	if sizing.Size != 128 {
		t.Errorf("expected fixed size 128 for dslogic analog, got %d", sizing.Size)
	}
}

func TestComputeBufferSizingDSLogicDSO(t *testing.T) {
	sizing := acquisition.ComputeBufferSizing(1_000_000, 1, true, true, true)
	if sizing.Size != 16*1024 {
		t.Errorf("expected fixed size 16KiB for dslogic dso, got %d", sizing.Size)
	}
}

// fakeSink records every packet it receives, in order, guarded by a mutex
// since Scheduler workers and the dispatch loop are on separate
// goroutines even though only the dispatch loop ever calls Packet.
type fakeSink struct {
	mu      sync.Mutex
	packets []acquisition.Packet
}

func (f *fakeSink) Packet(p acquisition.Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, p)
}

func (f *fakeSink) kinds() []acquisition.PacketKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]acquisition.PacketKind, len(f.packets))
	for i, p := range f.packets {
		out[i] = p.Kind
	}
	return out
}

func TestPacketKindString(t *testing.T) {
	cases := map[acquisition.PacketKind]string{
		acquisition.PacketHeader:  "HEADER",
		acquisition.PacketTrigger: "TRIGGER",
		acquisition.PacketLogic:   "LOGIC",
		acquisition.PacketAnalog:  "ANALOG",
		acquisition.PacketEnd:     "END",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("PacketKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestFakeSinkOrdering(t *testing.T) {
	sink := &fakeSink{}
	sink.Packet(acquisition.Packet{Kind: acquisition.PacketHeader})
	sink.Packet(acquisition.Packet{Kind: acquisition.PacketLogic, Payload: []byte{1, 2}})
	sink.Packet(acquisition.Packet{Kind: acquisition.PacketEnd})

	kinds := sink.kinds()
	want := []acquisition.PacketKind{acquisition.PacketHeader, acquisition.PacketLogic, acquisition.PacketEnd}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d packets, got %d", len(want), len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("packet %d: got %v, want %v", i, kinds[i], want[i])
		}
	}
}
