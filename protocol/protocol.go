/*Package protocol encodes the fx2lafw/DSLogic command set: the vendor
control opcodes, the START/DSLOGIC_START payload (including the FX2
samplerate-selection algorithm), and the DSLogic FPGA "setting" packed
binary structure sent once per acquisition start.

Every wire value here is little-endian; struct field order below is
wire order, not a readability concern, matching the header-tag-then-
data-words encoding the FPGA expects.
*/
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Command is a vendor control request opcode.
type Command uint8

const (
	// CmdGetFWVersion reads {major, minor} version bytes.
	CmdGetFWVersion Command = 0xB0
	// CmdStart begins FX2 acquisition (OUT) or queries DSLogic REVID (IN).
	CmdStart Command = 0xB1
	// CmdGetRevID queries FX2 REVID (IN) or starts DSLogic acquisition (OUT).
	CmdGetRevID Command = 0xB2
	// CmdDSLogicConfig puts the DSLogic FPGA into bitstream-config mode.
	CmdDSLogicConfig Command = 0xB3
	// CmdDSLogicSetting prefaces the FPGA setting bulk-OUT stream with a setting-word count.
	CmdDSLogicSetting Command = 0xB4
)

// MaxSampleDelay is the largest representable START sample_delay (6*256, per the original firmware's 14-bit field).
const MaxSampleDelay = 6 * 256

// Max16BitSampleRate is the highest samplerate at which 16-bit-wide sampling is permitted on FX2 devices.
const Max16BitSampleRate = 12_000_000

// ErrSamplerateUnsupported is returned when no FX2 clock/delay combination can produce the requested samplerate.
var ErrSamplerateUnsupported = fmt.Errorf("protocol: samplerate not representable by either FX2 clock")

// clock48MHz and clock30MHz are the two crystal-derived clocks the FX2 START command can select between.
const (
	clock48MHz = 48_000_000
	clock30MHz = 30_000_000
)

// startFlagWidth is the bit selecting 16-bit (1) vs 8-bit (0) sample width in the START payload's flags byte.
const startFlagWidth = 1 << 5

// startFlagClock is the bit selecting 48MHz (1) vs 30MHz (0) in the START payload's flags byte.
const startFlagClock = 1 << 6

// startFlagDSLogicStop, set alone (no other bits), means "stop acquisition" to a DSLogic device.
const startFlagDSLogicStop = 1 << 7

// SelectClock runs the FX2 samplerate-selection algorithm: prefer 48MHz when
// it divides samplerate evenly and the resulting sample_delay fits in
// MaxSampleDelay; otherwise fall back to 30MHz if it divides evenly;
// otherwise the samplerate cannot be represented.
func SelectClock(samplerate uint64) (clockHz uint64, sampleDelay uint16, err error) {
	if samplerate == 0 {
		return 0, 0, fmt.Errorf("protocol: samplerate must be > 0")
	}
	if clock48MHz%samplerate == 0 {
		delay := clock48MHz/samplerate - 1
		if delay <= MaxSampleDelay {
			return clock48MHz, uint16(delay), nil
		}
	}
	if clock30MHz%samplerate == 0 {
		return clock30MHz, uint16(clock30MHz/samplerate - 1), nil
	}
	return 0, 0, ErrSamplerateUnsupported
}

// StartPayload builds the 3-byte START command body for an FX2 (non-DSLogic)
// acquisition: flags byte plus big-endian-within-the-byte sample_delay
// high/low per §4.5 ("bytes 1-2 = sample_delay high/low").
func StartPayload(samplerate uint64, sampleWide bool) ([3]byte, error) {
	var out [3]byte
	clock, delay, err := SelectClock(samplerate)
	if err != nil {
		return out, err
	}
	if sampleWide && samplerate > Max16BitSampleRate {
		return out, fmt.Errorf("protocol: 16-bit sampling not supported above %d Hz", Max16BitSampleRate)
	}
	var flags byte
	if sampleWide {
		flags |= startFlagWidth
	}
	if clock == clock48MHz {
		flags |= startFlagClock
	}
	out[0] = flags
	out[1] = byte(delay >> 8)
	out[2] = byte(delay)
	return out, nil
}

// StopPayload builds the 3-byte START command body that asks a DSLogic
// device to stop any acquisition in progress, idempotently.
func StopPayload() [3]byte {
	return [3]byte{startFlagDSLogicStop, 0, 0}
}

// SettingCountPayload builds the 3-byte DSLOGIC_SETTING command body: the
// number of 16-bit words in the setting structure, little-endian 24-bit.
func SettingCountPayload(settingBytes int) [3]byte {
	count := uint32(settingBytes / 2)
	return [3]byte{byte(count), byte(count >> 8), byte(count >> 16)}
}

// NumTriggerStages is the number of DSLogic hardware trigger stages carried in a setting structure.
const NumTriggerStages = 16

// Fixed header tag words interleaved with the DSLogic setting's data words, per §6.
const (
	settingSync           = 0xFFFFFFFF
	settingModeHeader      = 0x0001
	settingDividerHeader   = 0x0102FFFF
	settingCountHeader     = 0x0302FFFF
	settingTrigPosHeader   = 0x0502FFFF
	settingTrigGlbHeader   = 0x0701
	settingTrigAdpHeader   = 0x0A02FFFF
	settingTrigSdaHeader   = 0x0C02FFFF
	settingMask0Header     = 0x1010FFFF
	settingMask1Header     = 0x1110FFFF
	settingValue0Header    = 0x1410FFFF
	settingValue1Header    = 0x1510FFFF
	settingEdge0Header     = 0x1810FFFF
	settingEdge1Header     = 0x1910FFFF
	settingCount0Header    = 0x1C10FFFF
	settingCount1Header    = 0x1D10FFFF
	settingLogic0Header    = 0x2010FFFF
	settingLogic1Header    = 0x2110FFFF
)

// DSLogicSetting is the packed binary structure streamed to the FPGA over a
// single bulk OUT transfer at acquisition start. Field order is wire order.
type DSLogicSetting struct {
	Sync uint32

	ModeHeader uint16
	Mode       uint16

	DividerHeader uint32
	Divider       uint32

	CountHeader uint32
	Count       uint32

	TrigPosHeader uint32
	TrigPos       uint32

	TrigGlbHeader uint16
	TrigGlb       uint16

	TrigAdpHeader uint32
	TrigAdp       uint32

	TrigSdaHeader uint32
	TrigSda       uint32

	TrigMask0Header uint32
	TrigMask0       [NumTriggerStages]uint16
	TrigMask1Header uint32
	TrigMask1       [NumTriggerStages]uint16

	TrigValue0Header uint32
	TrigValue0       [NumTriggerStages]uint16
	TrigValue1Header uint32
	TrigValue1       [NumTriggerStages]uint16

	TrigEdge0Header uint32
	TrigEdge0       [NumTriggerStages]uint16
	TrigEdge1Header uint32
	TrigEdge1       [NumTriggerStages]uint16

	TrigCount0Header uint32
	TrigCount0       [NumTriggerStages]uint16
	TrigCount1Header uint32
	TrigCount1       [NumTriggerStages]uint16

	TrigLogic0Header uint32
	TrigLogic0       [NumTriggerStages]uint16
	TrigLogic1Header uint32
	TrigLogic1       [NumTriggerStages]uint16

	EndSync uint32
}

// NewDSLogicSetting returns a setting structure with every header field
// populated to its fixed wire constant and every data field zeroed; callers
// fill in Mode/Divider/Count/TrigPos/TrigGlb/TrigAdp/TrigSda and the
// per-stage trigger arrays before marshaling.
func NewDSLogicSetting() DSLogicSetting {
	return DSLogicSetting{
		Sync:             settingSync,
		ModeHeader:       settingModeHeader,
		DividerHeader:    settingDividerHeader,
		CountHeader:      settingCountHeader,
		TrigPosHeader:    settingTrigPosHeader,
		TrigGlbHeader:    settingTrigGlbHeader,
		TrigAdpHeader:    settingTrigAdpHeader,
		TrigSdaHeader:    settingTrigSdaHeader,
		TrigMask0Header:  settingMask0Header,
		TrigMask1Header:  settingMask1Header,
		TrigValue0Header: settingValue0Header,
		TrigValue1Header: settingValue1Header,
		TrigEdge0Header:  settingEdge0Header,
		TrigEdge1Header:  settingEdge1Header,
		TrigCount0Header: settingCount0Header,
		TrigCount1Header: settingCount1Header,
		TrigLogic0Header: settingLogic0Header,
		TrigLogic1Header: settingLogic1Header,
		EndSync:          0,
	}
}

// Marshal encodes the setting structure to its wire bytes.
func (s DSLogicSetting) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, fmt.Errorf("protocol: marshal dslogic setting: %w", err)
	}
	return buf.Bytes(), nil
}

// ModeFlags computes the DSLogic setting's 16-bit mode word per §4.6.
type ModeFlags struct {
	ExternalTest bool
	Loopback     bool
	TriggerEn    bool
	AnalogOrDSO  bool
	ExternalClock bool
	Samplerate    uint64
	Analog        bool
}

// Encode packs the mode flags into the wire word.
func (m ModeFlags) Encode() uint16 {
	var mode uint16
	if m.ExternalTest {
		mode |= 1 << 15
		mode |= 1 << 14
	}
	if m.Loopback {
		mode |= 1 << 13
	}
	if m.TriggerEn {
		mode |= 1 << 0
	}
	if m.AnalogOrDSO {
		mode |= 1 << 4
	}
	if m.ExternalClock {
		mode |= 1 << 1
	}
	if m.Samplerate == 200_000_000 || m.Analog {
		mode |= 1 << 5
	}
	if m.Samplerate == 400_000_000 {
		mode |= 1 << 6
	}
	if m.Analog {
		mode |= 1 << 7
	}
	return mode
}

// Divider computes the DSLogic FPGA clock divider for a target samplerate: ceil(100MHz / samplerate).
func Divider(samplerate uint64) uint32 {
	const fpgaClock = 100_000_000
	return uint32((fpgaClock + samplerate - 1) / samplerate)
}

// TrigPos computes the DSLogic trigger sample position from a percentage (0-100) and the sample limit.
func TrigPos(triggerPosPercent float64, limitSamples uint64) uint32 {
	return uint32(triggerPosPercent / 100.0 * float64(limitSamples))
}

// TriggerPosResponse is the one-shot bulk-IN payload describing where in RAM the hardware trigger fired.
type TriggerPosResponse struct {
	RealPos    uint32
	RAMSAddr   uint32
	FirstBlock [504]byte
}

// TriggerPosResponseSize is the wire size of TriggerPosResponse.
const TriggerPosResponseSize = 4 + 4 + 504

// UnmarshalTriggerPosResponse decodes a trigger-pos bulk-IN payload.
func UnmarshalTriggerPosResponse(b []byte) (TriggerPosResponse, error) {
	var out TriggerPosResponse
	if len(b) < TriggerPosResponseSize {
		return out, fmt.Errorf("protocol: trigger-pos response too short: got %d bytes, want %d", len(b), TriggerPosResponseSize)
	}
	if err := binary.Read(bytes.NewReader(b[:TriggerPosResponseSize]), binary.LittleEndian, &out); err != nil {
		return out, fmt.Errorf("protocol: unmarshal trigger-pos response: %w", err)
	}
	return out, nil
}
