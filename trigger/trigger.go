/*Package trigger implements both trigger paths of the driver: the
DSLogic hardware trigger's per-stage mask/value/edge word computation
(fed into the FPGA setting structure built by the protocol package),
and the FX2 software trigger state machine that scans each arriving
sample buffer for a match before any data is delivered.
*/
package trigger

import "github.com/sigrok-go/fx2lafw/util"

// NumProbes is the number of logic channels a single hardware trigger stage row covers.
const NumProbes = 16

// NumSoftwareStages is the number of stages the FX2 software trigger state machine supports.
const NumSoftwareStages = 4

// Fired is the sentinel trigger_stage value meaning the trigger has already matched.
const Fired = -1

// Row holds one trigger stage's pattern as written, highest-probe-first:
// Row[0] is probe 15's character, Row[15] is probe 0's. Recognized
// characters: '0', '1', 'X', 'R', 'F', 'C'. A word's bit p is therefore
// computed from Row[15-p], per the original trigger0[stage][probes-j-1]
// = input[j] storage convention.
type Row [NumProbes]byte

// StageWords computes the mask0/mask1/value0/value1/edge0/edge1 wire words
// for one hardware trigger stage from its trigger0/trigger1 pattern rows.
func StageWords(trigger0, trigger1 Row) (mask0, mask1, value0, value1, edge0, edge1 uint16) {
	for p := uint(0); p < NumProbes; p++ {
		c0, c1 := trigger0[NumProbes-1-p], trigger1[NumProbes-1-p]

		if c0 == 'X' || c0 == 'C' {
			mask0 = util.SetBit16(mask0, p, true)
		}
		if c1 == 'X' || c1 == 'C' {
			mask1 = util.SetBit16(mask1, p, true)
		}
		if c0 == '1' || c0 == 'R' {
			value0 = util.SetBit16(value0, p, true)
		}
		if c1 == '1' || c1 == 'R' {
			value1 = util.SetBit16(value1, p, true)
		}
		if c0 == 'R' || c0 == 'F' || c0 == 'C' {
			edge0 = util.SetBit16(edge0, p, true)
		}
		if c1 == 'R' || c1 == 'F' || c1 == 'C' {
			edge1 = util.SetBit16(edge1, p, true)
		}
	}
	return mask0, mask1, value0, value1, edge0, edge1
}

// NumHardwareStages is the number of addressable stage slots in Hardware's
// per-stage arrays: 0..15 are the 16 wire stages sent to the FPGA in
// Advanced mode, and 16 is the host-side-only aggregate row that Simple
// mode populates stage 0 from, per spec §3 ("per-stage arrays indexed
// [0..16]; index 16 is the simple-mode aggregate stage").
const NumHardwareStages = 17

// AggregateStage is the index of Hardware's simple-mode aggregate row.
const AggregateStage = 16

// Hardware is the DSLogic hardware trigger configuration: one Row pair per
// stage. In Simple mode (Advanced == false) only Trigger0/Trigger1[AggregateStage]
// and the matching Logic/Inv/Count entries are meaningful; they seed wire
// stage 0 and every other wire stage is a fixed neutral row. In Advanced
// mode all 16 wire stages (indices 0..15) are populated independently and
// the aggregate row is unused.
type Hardware struct {
	Stages     int // number of active stages (trig_glb)
	Advanced   bool
	Trigger0   [NumHardwareStages]Row
	Trigger1   [NumHardwareStages]Row
	Logic      [NumHardwareStages]uint8 // 0=AND, 1=OR (trigger_logic, per stage)
	Inv0, Inv1 [NumHardwareStages]bool
	Count0     [NumHardwareStages]uint16
	Count1     [NumHardwareStages]uint16
	Position   float64 // trigger_pos percentage, 0-100
	Enabled    bool
}

// Software is the FX2 software trigger's runtime state, scanned sample by
// sample against incoming transfer buffers until it fires.
type Software struct {
	Mask  [NumSoftwareStages]uint16
	Value [NumSoftwareStages]uint16

	// Stage is the current stage index, or Fired once matched.
	Stage int

	// Buffer accumulates the matching sample from each stage, emitted as
	// the LOGIC packet that follows the TRIGGER packet.
	Buffer [NumSoftwareStages]uint16
}

// NewSoftware returns Software with Stage at 0 (armed, not yet fired).
func NewSoftware() Software {
	return Software{}
}

// ScanResult reports the outcome of scanning one buffer of samples.
type ScanResult struct {
	// Fired is true if the trigger matched during this scan (it may have
	// already been Fired on entry, in which case Fired is also true and
	// Offset is 0 — the whole buffer is post-trigger data).
	Fired bool

	// Offset is the sample index (not byte offset) of the first
	// post-trigger sample in this buffer. Only meaningful on the buffer
	// where the trigger transitioned to Fired.
	Offset int

	// MatchedSamples holds the samples recorded at each stage as it
	// matched, valid only when the trigger fired during this call.
	MatchedSamples []uint16
}

// Scan runs the FX2 software trigger state machine over samples (already
// decoded to one uint16 per sample regardless of 8/16-bit width), per
// §4.7. It returns as soon as the trigger fires within this buffer;
// callers that want the post-trigger payload use Offset to slice the
// remainder of the current buffer.
func (s *Software) Scan(samples []uint16) ScanResult {
	if s.Stage == Fired {
		return ScanResult{Fired: true}
	}

	for i := 0; i < len(samples); i++ {
		cur := samples[i]

		if cur&s.Mask[s.Stage] == s.Value[s.Stage] {
			s.Buffer[s.Stage] = cur
			s.Stage++

			if s.Stage == NumSoftwareStages || s.Mask[s.Stage] == 0 {
				offset := i + 1
				matched := append([]uint16(nil), s.Buffer[:s.Stage]...)
				s.Stage = Fired
				return ScanResult{Fired: true, Offset: offset, MatchedSamples: matched}
			}
		} else if s.Stage > 0 {
			i -= s.Stage
			if i < -1 {
				i = -1
			}
			s.Stage = 0
		}
	}
	return ScanResult{}
}
