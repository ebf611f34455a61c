package trigger_test

import (
	"fmt"
	"testing"

	"github.com/sigrok-go/fx2lafw/trigger"
)

// row builds a Row from a 16-character pattern string, written
// highest-probe-first (row[0] is probe 15's character).
func row(s string) trigger.Row {
	var r trigger.Row
	copy(r[:], s)
	return r
}

func ExampleStageWords() {
	r := row("10XRFC0011111111")
	mask0, _, value0, _, edge0, _ := trigger.StageWords(r, r)
	fmt.Printf("%016b\n%016b\n%016b\n", mask0, value0, edge0)
	// Output:
	// 0010010000000000
	// 1001000011111111
	// 0001110000000000
}

func TestStageWordsBitPosition(t *testing.T) {
	// probe 15's char occupies Row[0]; an 'X' there must set bit 15 of mask0.
	var r trigger.Row
	for i := range r {
		r[i] = '0'
	}
	r[0] = 'X' // probe 15's character, must land on bit 15
	mask0, _, _, _, _, _ := trigger.StageWords(r, r)
	if mask0 != 1<<15 {
		t.Errorf("expected only bit 15 set, got %016b", mask0)
	}
}

func TestStageWordsProbeZeroIsLSB(t *testing.T) {
	var r trigger.Row
	for i := range r {
		r[i] = '0'
	}
	r[15] = 'X' // probe 0's character, must land on bit 0
	mask0, mask1, _, _, _, _ := trigger.StageWords(r, r)
	if mask0 != 1 {
		t.Errorf("expected only bit 0 set, got %016b", mask0)
	}
	if mask1 != 1 {
		t.Errorf("expected mask1 to mirror mask0 for identical rows, got %016b", mask1)
	}
}

func TestSoftwareScanTwoStage(t *testing.T) {
	var s trigger.Software
	s.Mask = [trigger.NumSoftwareStages]uint16{0xFF, 0xFF, 0, 0}
	s.Value = [trigger.NumSoftwareStages]uint16{0x10, 0x20, 0, 0}

	result := s.Scan([]uint16{0x10, 0x20, 0x55})
	if !result.Fired {
		t.Fatal("expected trigger to fire")
	}
	if result.Offset != 2 {
		t.Errorf("expected offset 2 (sample index 1 + 1), got %d", result.Offset)
	}
	want := []uint16{0x10, 0x20}
	if len(result.MatchedSamples) != len(want) {
		t.Fatalf("expected %d matched samples, got %d", len(want), len(result.MatchedSamples))
	}
	for i := range want {
		if result.MatchedSamples[i] != want[i] {
			t.Errorf("matched sample %d: got %#x, want %#x", i, result.MatchedSamples[i], want[i])
		}
	}
	if s.Stage != trigger.Fired {
		t.Errorf("expected stage to stick at Fired, got %d", s.Stage)
	}

	// a later call must not re-scan: the whole buffer is post-trigger data.
	again := s.Scan([]uint16{0x99})
	if !again.Fired || again.Offset != 0 {
		t.Errorf("expected already-fired scan to report Fired with zero offset, got %+v", again)
	}
}

func TestSoftwareScanStageRegression(t *testing.T) {
	var s trigger.Software
	// four stages matching 0x01, 0x02, 0x03, 0x04: the partial match that
	// starts at sample 0 breaks at sample 1, and the scan must restart from
	// sample 1 so the full sequence starting there still fires.
	s.Mask = [trigger.NumSoftwareStages]uint16{0xFF, 0xFF, 0xFF, 0xFF}
	s.Value = [trigger.NumSoftwareStages]uint16{0x01, 0x02, 0x03, 0x04}

	result := s.Scan([]uint16{0x01, 0x01, 0x02, 0x03, 0x04})
	if !result.Fired {
		t.Fatal("expected trigger to eventually fire")
	}
	if result.Offset != 5 {
		t.Errorf("expected offset 5, got %d", result.Offset)
	}
}
