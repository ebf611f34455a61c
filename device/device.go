/*Package device implements the device lifecycle: scan, profile match,
optional firmware/bitstream upload, renumerate wait, open, interface
claim, DSLogic FPGA bring-up, and acquisition start/stop/close. It is
the glue package that wires profile, transport, firmware, protocol,
trigger and acquisition together into the single entry point a caller
uses.
*/
package device

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/gousb"

	"github.com/sigrok-go/fx2lafw/acquisition"
	"github.com/sigrok-go/fx2lafw/firmware"
	"github.com/sigrok-go/fx2lafw/profile"
	"github.com/sigrok-go/fx2lafw/protocol"
	"github.com/sigrok-go/fx2lafw/transport"
	"github.com/sigrok-go/fx2lafw/trigger"
)

// Status is a DeviceInstance's lifecycle state.
type Status int

const (
	Initializing Status = iota
	Inactive
	Active
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Inactive:
		return "Inactive"
	case Active:
		return "Active"
	default:
		return "Unknown"
	}
}

// ChannelType distinguishes a logic channel from an analog one (DSLogic only).
type ChannelType int

const (
	ChannelLogic ChannelType = iota
	ChannelAnalog
)

// Channel is one sampled line of a device, per §3's DATA MODEL.
type Channel struct {
	Index          int
	Type           ChannelType
	Enabled        bool
	TriggerPattern string
	Name           string
}

// MaxRenumDelayMS bounds the total time spent waiting for a device to
// reappear on the bus after firmware upload, per §4.3.
const MaxRenumDelayMS = 3000

// renumeratePollInterval is the poll interval within the renumerate wait budget.
const renumeratePollInterval = 100 * time.Millisecond

// renumerateSettleDelay is the initial sleep before polling begins, giving
// the device time to actually disappear from the bus.
const renumerateSettleDelay = 300 * time.Millisecond

// RequiredFirmwareMajor is the firmware major version this driver requires; minor is permissive.
const RequiredFirmwareMajor = 1

// Errors returned by device lifecycle operations.
var (
	ErrIncompatibleFirmware = fmt.Errorf("device: incompatible firmware major version")
	ErrVersionQueryFailed   = fmt.Errorf("device: version query failed")
	ErrNotFound             = fmt.Errorf("device: no matching device found")
	ErrRenumerateTimeout    = fmt.Errorf("device: timed out waiting for device to renumerate")
	ErrNotActive            = fmt.Errorf("device: operation requires an active device")
)

// Instance is one opened (or not-yet-opened) device, tracked by the
// driver across firmware upload, renumeration, and repeated acquisition
// start/stop cycles.
type Instance struct {
	Profile *profile.Profile
	Status  Status
	// Bus and Address are not read from the USB device: Open sets Address
	// to AddressUnknown (-1) and leaves Bus at 0, and neither changes later.
	Bus     int
	Address int

	Channels []Channel

	FirmwareDir string

	usbCtx    *gousb.Context
	transport *transport.Device

	Acquisition AcquisitionContext
}

// AddressUnknown is the sentinel Address value meaning the device's bus
// address is not known; Open assigns it and does not replace it.
const AddressUnknown = -1

// DSLogicMode selects which of a DSLogic device's acquisition personalities is active.
type DSLogicMode int

const (
	DSLogicModeLogic DSLogicMode = iota
	DSLogicModeDSO
	DSLogicModeAnalog
)

// DSLogicTestMode selects a DSLogic device's self-test sample source.
type DSLogicTestMode int

const (
	DSLogicTestNone DSLogicTestMode = iota
	DSLogicTestInternal
	DSLogicTestExternal
	DSLogicTestLoopback
)

// DSLogicStatus tracks a DSLogic acquisition's handshake progress, per §4.9.
type DSLogicStatus int

const (
	DSLogicError DSLogicStatus = iota
	DSLogicInit
	DSLogicStart
	DSLogicTriggered
	DSLogicData
	DSLogicStop
)

// AcquisitionContext holds the per-open-device state carried across
// acquisition start/stop cycles, per §3's DATA MODEL.
type AcquisitionContext struct {
	FirmwareUpdatedAt time.Time // zero value means "not updated this session"

	Samplerates []uint64
	Samplerate  uint64

	LimitSamples uint64
	SampleWide   bool

	TriggerType string
	Continuous  bool

	Software trigger.Software
	NumSamples int64

	DSLogic         bool
	DSLogicMode     DSLogicMode
	DSLogicTest     DSLogicTestMode
	DSLogicExtClock bool
	DSLogicStatus   DSLogicStatus
	Hardware        trigger.Hardware
}

// Open runs the device lifecycle of §4.4: scan for a matching profile,
// upload firmware if not already loaded, wait for renumeration, open
// and claim the interface, bring up the DSLogic FPGA if applicable, and
// verify the firmware version. On return the Instance is Active.
func Open(ctx context.Context, usbCtx *gousb.Context, vidPidPairs map[gousb.ID][]gousb.ID, firmwareDir string) (*Instance, error) {
	candidates, err := transport.Scan(usbCtx, vidPidPairs)
	if err != nil {
		return nil, err
	}

	var matched *profile.Profile
	var cand transport.Candidate
	for _, c := range candidates {
		var mfg, prod *string
		if c.Manufacturer != "" || c.Product != "" {
			mfg, prod = &c.Manufacturer, &c.Product
		}
		p, err := profile.Match(c.VendorID, c.ProductID, mfg, prod)
		if err == nil {
			matched = p
			cand = c
			break
		}
	}
	if matched == nil {
		return nil, ErrNotFound
	}

	inst := &Instance{
		Profile:     matched,
		Status:      Initializing,
		Address:     AddressUnknown,
		FirmwareDir: firmwareDir,
		usbCtx:      usbCtx,
		Acquisition: AcquisitionContext{
			DSLogic: matched.DSLogic,
		},
	}
	if matched.DSLogic {
		inst.Acquisition.Samplerates = append([]uint64(nil), profile.DSLogicSamplerates...)
	} else {
		inst.Acquisition.Samplerates = append([]uint64(nil), profile.FX2Samplerates...)
	}
	inst.Acquisition.Samplerate = inst.Acquisition.Samplerates[0]

	alreadyLoaded := profile.IsFirmwareLoaded(cand.Manufacturer, cand.Product)
	if !alreadyLoaded {
		if err := inst.uploadAndWait(ctx); err != nil {
			return nil, err
		}
	}

	dev, err := transport.Open(usbCtx, matched.VendorID, matched.ProductID)
	if err != nil {
		return nil, err
	}
	if err := dev.Claim(1, 0, 0); err != nil {
		dev.Close()
		return nil, err
	}
	inst.transport = dev

	if matched.DSLogic {
		bitstream := filepath.Join(firmwareDir, matched.Firmware+".bitstream")
		if err := firmware.UploadDSLogicBitstream(dev, bitstream); err != nil {
			dev.Close()
			return nil, err
		}
	}

	if err := inst.checkFirmwareVersion(); err != nil {
		dev.Close()
		return nil, err
	}

	inst.Status = Active
	return inst, nil
}

// uploadAndWait uploads the profile's firmware image and then waits for
// the device to renumerate, per §4.2/§4.3.
func (inst *Instance) uploadAndWait(ctx context.Context) error {
	dev, err := transport.Open(inst.usbCtx, inst.Profile.VendorID, inst.Profile.ProductID)
	if err != nil {
		return err
	}
	path := filepath.Join(inst.FirmwareDir, inst.Profile.Firmware)
	uploadErr := firmware.UploadFX2(dev, path)
	dev.Close()
	if uploadErr != nil {
		return uploadErr
	}
	inst.Acquisition.FirmwareUpdatedAt = time.Now()

	return inst.waitForRenumerate(ctx)
}

// waitForRenumerate implements §4.3: sleep 300ms, then poll open attempts
// every 100ms up to MaxRenumDelayMS total, measured from the firmware
// upload timestamp.
func (inst *Instance) waitForRenumerate(ctx context.Context) error {
	time.Sleep(renumerateSettleDelay)

	deadline := inst.Acquisition.FirmwareUpdatedAt.Add(MaxRenumDelayMS * time.Millisecond)
	elapsed := time.Until(deadline)
	if elapsed < 0 {
		elapsed = 0
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(renumeratePollInterval), uint64(elapsed/renumeratePollInterval)+1)

	op := func() error {
		candidates, err := transport.Scan(inst.usbCtx, map[gousb.ID][]gousb.ID{
			gousb.ID(inst.Profile.VendorID): {gousb.ID(inst.Profile.ProductID)},
		})
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return fmt.Errorf("device: not yet renumerated")
		}
		return nil
	}

	if err := backoff.Retry(op, b); err != nil {
		return ErrRenumerateTimeout
	}
	return nil
}

// checkFirmwareVersion issues GET_FW_VERSION and GET_REVID, per §4.4,
// and requires the major version to equal RequiredFirmwareMajor.
func (inst *Instance) checkFirmwareVersion() error {
	reqType := uint8(gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice)

	ver := make([]byte, 2)
	if _, err := inst.transport.Control(reqType, uint8(protocol.CmdGetFWVersion), 0, 0, ver, 100*time.Millisecond); err != nil {
		return fmt.Errorf("%w: %v", ErrVersionQueryFailed, err)
	}
	if ver[0] != RequiredFirmwareMajor {
		return fmt.Errorf("%w: got major version %d, want %d", ErrIncompatibleFirmware, ver[0], RequiredFirmwareMajor)
	}

	// GET_REVID is 0xB2 on FX2 firmware but 0xB1 on DSLogic firmware.
	revIDCmd := protocol.CmdGetRevID
	if inst.Profile.DSLogic {
		revIDCmd = protocol.CmdStart
	}
	revID := make([]byte, 1)
	if _, err := inst.transport.Control(reqType, uint8(revIDCmd), 0, 0, revID, 100*time.Millisecond); err != nil {
		return fmt.Errorf("%w: %v", ErrVersionQueryFailed, err)
	}
	return nil
}

// Close releases the claimed interface and closes the underlying USB
// device. The Instance must not be used again afterward.
func (inst *Instance) Close() error {
	if inst.transport == nil {
		return nil
	}
	err := inst.transport.Close()
	inst.transport = nil
	inst.Status = Inactive
	return err
}

// ConfigureChannels derives sample_wide, trigger_mask and trigger_value
// from the enabled channels' trigger patterns, grounded on
// fx2lafw_configure_channels: only the FX2 software-trigger path uses
// these aggregate words; DSLogic's hardware trigger is configured
// directly on AcquisitionContext.Hardware instead.
func (inst *Instance) ConfigureChannels(channels []Channel) error {
	inst.Channels = channels

	inst.Acquisition.SampleWide = false
	for _, ch := range channels {
		if ch.Enabled && (ch.Index >= 8 || (inst.Acquisition.DSLogic && ch.Type == ChannelAnalog && ch.Index > 0)) {
			inst.Acquisition.SampleWide = true
			break
		}
	}
	if inst.Acquisition.SampleWide && !inst.Profile.Is16Bit() {
		return fmt.Errorf("device: channels above index 7 require 16-bit sampling, unsupported by this profile")
	}

	var mask, value [trigger.NumSoftwareStages]uint16
	anyTrigger := false
	for _, ch := range channels {
		if !ch.Enabled || ch.TriggerPattern == "" {
			continue
		}
		if ch.Index >= trigger.NumProbes {
			continue
		}
		for stage := 0; stage < len(ch.TriggerPattern) && stage < trigger.NumSoftwareStages; stage++ {
			c := ch.TriggerPattern[stage]
			mask[stage] = setBit(mask[stage], uint(ch.Index), true)
			if c == '1' {
				value[stage] = setBit(value[stage], uint(ch.Index), true)
			}
			anyTrigger = true
		}
	}
	inst.Acquisition.Software = trigger.NewSoftware()
	if anyTrigger {
		inst.Acquisition.Software.Mask = mask
		inst.Acquisition.Software.Value = value
	}
	return nil
}

func setBit(w uint16, bit uint, high bool) uint16 {
	if high {
		return w | (1 << bit)
	}
	return w &^ (1 << bit)
}

// StartAcquisition runs §4.8/§4.9's scheduler setup: for DSLogic devices
// it runs the full handshake (stop, setting, trigger-pos, data start);
// for plain FX2 devices it issues START and begins the data transfer
// pool directly on endpoint 2.
func (inst *Instance) StartAcquisition(ctx context.Context, sink acquisition.Sink) (*acquisition.Scheduler, error) {
	if inst.Status != Active {
		return nil, ErrNotActive
	}

	sampleWidth := 1
	if inst.Acquisition.SampleWide {
		sampleWidth = 2
	}

	if inst.Acquisition.DSLogic {
		setting := inst.buildDSLogicSetting()
		sizing := acquisition.ComputeBufferSizing(inst.Acquisition.Samplerate, sampleWidth, true,
			inst.Acquisition.DSLogicMode != DSLogicModeLogic, inst.Acquisition.DSLogicMode == DSLogicModeDSO)
		testMode := inst.Acquisition.DSLogicTest == DSLogicTestInternal || inst.Acquisition.DSLogicTest == DSLogicTestExternal
		return acquisition.StartDSLogic(ctx, inst.transport, setting, sizing, sampleWidth, inst.Acquisition.LimitSamples, testMode, sink)
	}

	payload, err := protocol.StartPayload(inst.Acquisition.Samplerate, inst.Acquisition.SampleWide)
	if err != nil {
		return nil, err
	}
	reqType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	if _, err := inst.transport.Control(reqType, uint8(protocol.CmdStart), 0, 0, payload[:], 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("device: start command: %w", err)
	}

	ep, err := inst.transport.InEndpoint(2)
	if err != nil {
		return nil, err
	}
	sizing := acquisition.ComputeBufferSizing(inst.Acquisition.Samplerate, sampleWidth, false, false, false)
	sink.Packet(acquisition.Packet{Kind: acquisition.PacketHeader})
	return acquisition.NewScheduler(ctx, inst.transport, ep, sizing, sampleWidth, inst.Acquisition.LimitSamples, &inst.Acquisition.Software, false, sink), nil
}

// buildDSLogicSetting packs the current AcquisitionContext into the wire
// setting structure sent at acquisition start, per §4.6.
func (inst *Instance) buildDSLogicSetting() protocol.DSLogicSetting {
	s := protocol.NewDSLogicSetting()

	mode := protocol.ModeFlags{
		ExternalTest:  inst.Acquisition.DSLogicTest == DSLogicTestExternal,
		Loopback:      inst.Acquisition.DSLogicTest == DSLogicTestLoopback,
		TriggerEn:     inst.Acquisition.Hardware.Enabled,
		AnalogOrDSO:   inst.Acquisition.DSLogicMode != DSLogicModeLogic,
		ExternalClock: inst.Acquisition.DSLogicExtClock,
		Samplerate:    inst.Acquisition.Samplerate,
		Analog:        inst.Acquisition.DSLogicMode == DSLogicModeAnalog,
	}
	s.Mode = mode.Encode()
	s.Divider = protocol.Divider(inst.Acquisition.Samplerate)
	s.Count = uint32(inst.Acquisition.LimitSamples)
	s.TrigPos = protocol.TrigPos(inst.Acquisition.Hardware.Position, inst.Acquisition.LimitSamples)
	s.TrigAdp = s.Count - s.TrigPos - 1
	s.TrigGlb = uint16(inst.Acquisition.Hardware.Stages)

	h := inst.Acquisition.Hardware
	if h.Advanced {
		for stage := 0; stage < protocol.NumTriggerStages; stage++ {
			mask0, mask1, value0, value1, edge0, edge1 := trigger.StageWords(h.Trigger0[stage], h.Trigger1[stage])
			s.TrigMask0[stage], s.TrigMask1[stage] = mask0, mask1
			s.TrigValue0[stage], s.TrigValue1[stage] = value0, value1
			s.TrigEdge0[stage], s.TrigEdge1[stage] = edge0, edge1
			s.TrigCount0[stage], s.TrigCount1[stage] = h.Count0[stage], h.Count1[stage]
			s.TrigLogic0[stage] = logicWord(h.Logic[stage], h.Inv0[stage])
			s.TrigLogic1[stage] = logicWord(h.Logic[stage], h.Inv1[stage])
		}
	} else {
		mask0, mask1, value0, value1, edge0, edge1 := trigger.StageWords(
			h.Trigger0[trigger.AggregateStage], h.Trigger1[trigger.AggregateStage])
		s.TrigMask0[0], s.TrigMask1[0] = mask0, mask1
		s.TrigValue0[0], s.TrigValue1[0] = value0, value1
		s.TrigEdge0[0], s.TrigEdge1[0] = edge0, edge1
		s.TrigCount0[0] = h.Count0[trigger.AggregateStage]
		s.TrigCount1[0] = h.Count1[trigger.AggregateStage]
		s.TrigLogic0[0] = logicWord(h.Logic[trigger.AggregateStage], h.Inv0[trigger.AggregateStage])
		s.TrigLogic1[0] = logicWord(h.Logic[trigger.AggregateStage], h.Inv1[trigger.AggregateStage])

		for stage := 1; stage < protocol.NumTriggerStages; stage++ {
			s.TrigMask0[stage], s.TrigMask1[stage] = 1, 1
			s.TrigLogic0[stage], s.TrigLogic1[stage] = 2, 2
		}
	}
	return s
}

// logicWord packs a stage's AND/OR selector and polarity-invert flag into
// the wire trig_logic word: (logic << 1) | inv, per protocol.c.
func logicWord(logic uint8, inv bool) uint16 {
	w := uint16(logic) << 1
	if inv {
		w |= 1
	}
	return w
}

// StopAcquisition aborts an in-flight Scheduler; callers still must wait
// for its Run goroutine to observe the END packet before reusing the device.
func (inst *Instance) StopAcquisition(s *acquisition.Scheduler) {
	s.Abort()
}
