/*Package acquisition runs the transfer scheduler: it allocates a pool of
bulk-IN worker goroutines, feeds every completed read through a single
unbuffered channel, and a lone dispatch loop consumes that channel to
run the trigger scanner, build outgoing packets, and decide when to
resubmit, abort, or drain to completion.

The design replaces the original's single-threaded libusb callback model
(driven by an external event pump) with an equivalent that gousb's
blocking ReadContext calls can express directly: one goroutine per
in-flight transfer, one channel standing in for "the event pump," and
one goroutine - the dispatch loop - holding all the mutable state, so
the context is never touched by two goroutines at once.
*/
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
	"github.com/sigrok-go/fx2lafw/protocol"
	"github.com/sigrok-go/fx2lafw/transport"
	"github.com/sigrok-go/fx2lafw/trigger"
)

// NumSimulTransfers is the maximum number of bulk IN transfers kept in flight at once.
const NumSimulTransfers = 32

// MaxEmptyTransfers is the number of consecutive empty/errored transfers tolerated before aborting.
const MaxEmptyTransfers = 64

// PacketKind identifies the kind of packet emitted to a Sink.
type PacketKind int

const (
	PacketHeader PacketKind = iota
	PacketTrigger
	PacketLogic
	PacketAnalog
	PacketEnd
)

func (k PacketKind) String() string {
	switch k {
	case PacketHeader:
		return "HEADER"
	case PacketTrigger:
		return "TRIGGER"
	case PacketLogic:
		return "LOGIC"
	case PacketAnalog:
		return "ANALOG"
	case PacketEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// Packet is one unit of output handed to a Sink.
type Packet struct {
	Kind    PacketKind
	Payload []byte
	Err     error // set only on an aborting END packet
}

// Sink receives packets in emission order. Implementations must not
// block the dispatch loop for long; buffer internally if needed.
type Sink interface {
	Packet(Packet)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Packet)

func (f SinkFunc) Packet(p Packet) { f(p) }

// BufferSizing holds the §4.8 transfer-size/count/timeout computation result.
type BufferSizing struct {
	Size         int
	NumTransfers int
	TimeoutMS    int
}

// bytesPerMS returns the number of sample bytes produced per millisecond at samplerate, sampleWidth bytes/sample.
func bytesPerMS(samplerate uint64, sampleWidth int) uint64 {
	return (samplerate * uint64(sampleWidth)) / 1000
}

// ComputeBufferSizing runs the §4.8 sizing algorithm. dslogic selects the
// {100ms, fixed-size-for-analog/DSO} variant of the rule; analogOrDSO
// additionally pins Size to a fixed value instead of rounding to 512.
func ComputeBufferSizing(samplerate uint64, sampleWidth int, dslogic, analogOrDSO, dso bool) BufferSizing {
	bpms := bytesPerMS(samplerate, sampleWidth)

	var size int
	switch {
	case dslogic && dso:
		size = 16 * 1024
	case dslogic && analogOrDSO:
		size = 128
	default:
		raw := 10 * bpms
		size = int((raw + 511) &^ 511)
		if size == 0 {
			size = 512
		}
	}

	windowMS := uint64(500)
	if dslogic {
		windowMS = 100
	}
	n := int(windowMS * bpms / uint64(size))
	if n > NumSimulTransfers {
		n = NumSimulTransfers
	}
	if n < 1 {
		n = 1
	}

	totalBytes := size * n
	timeoutMS := int(float64(totalBytes) / float64(bpms) * 1.25)

	return BufferSizing{Size: size, NumTransfers: n, TimeoutMS: timeoutMS}
}

// completion is what a worker goroutine sends back to the dispatch loop
// after one ReadContext call returns, successfully or not.
type completion struct {
	slot int
	n    int
	err  error
}

// transferSlot is one entry of the scheduler's transfer arena. Each worker
// reads into its own slot's buffer and reports back by slot index; the
// dispatch loop is the sole owner of the slot contents between submissions.
type transferSlot struct {
	buf []byte
}

// Scheduler drives the bulk-IN transfer pool for one acquisition. All
// fields below except cancel/abortOnce and numSamples (which Abort stores
// atomically) are touched only by the dispatch loop goroutine (Run), which
// is the single consumer of done; Abort is the one method safe to call
// from another goroutine.
type Scheduler struct {
	dev    *transport.Device
	ep     *gousb.InEndpoint
	sink   Sink
	sample *trigger.Software

	sizing       BufferSizing
	sampleWidth  int
	limitSamples uint64

	slots []*transferSlot
	done  chan completion

	ctx       context.Context
	cancel    context.CancelFunc
	abortOnce sync.Once

	numSamples         int64 // -1 once aborted; sticky
	submittedTransfers int
	emptyTransferCount int

	fired bool

	// testMode gates the DSLogic Internal/External test-mode sample
	// verification (spec §9's counter-wrap property): testExpected is a
	// running counter, seeded from the first observed sample once
	// testSeeded, compared against every subsequent sample.
	testMode       bool
	testSeeded     bool
	testExpected   uint16
	testMismatches int64
}

// NewScheduler builds a Scheduler for a transfer pool of the given sizing,
// reading from ep, scanning samples with sample (nil disables software
// triggering - e.g. DSLogic hardware-trigger acquisitions), and emitting
// packets to sink. parent bounds the whole acquisition; canceling it has
// the same effect as calling Abort. testMode enables the DSLogic
// Internal/External test-mode sample-content check; the check runs
// whenever testMode is true, whether or not sample is set (the FX2 path in
// package device always passes false).
func NewScheduler(parent context.Context, dev *transport.Device, ep *gousb.InEndpoint, sizing BufferSizing, sampleWidth int, limitSamples uint64, sample *trigger.Software, testMode bool, sink Sink) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		dev:          dev,
		ep:           ep,
		sink:         sink,
		sample:       sample,
		sizing:       sizing,
		sampleWidth:  sampleWidth,
		limitSamples: limitSamples,
		slots:        make([]*transferSlot, sizing.NumTransfers),
		done:         make(chan completion),
		ctx:          ctx,
		cancel:       cancel,
		testMode:     testMode,
	}
}

// Run submits every transfer and runs the dispatch loop until an END
// packet has been emitted (via abort, NoDevice, or limit_samples
// exhaustion). Run blocks until the whole acquisition drains; callers
// that want a bounded acquisition call Abort (optionally from a timer
// goroutine) rather than canceling the context passed to NewScheduler
// themselves, so the drain counting in handleCompletion stays
// authoritative either way.
func (s *Scheduler) Run() {
	defer s.cancel()

	for i := range s.slots {
		s.submit(s.ctx, i)
	}

	for s.submittedTransfers > 0 {
		c := <-s.done
		s.handleCompletion(s.ctx, c)
	}

	s.sink.Packet(Packet{Kind: PacketEnd})
}

// Abort marks the acquisition aborted and cancels every in-flight
// transfer's context at once, per §4.8/§5. It is safe to call from any
// goroutine, including concurrently with Run. Already-submitted workers
// still report their completions so Run's drain count reaches zero
// exactly once every canceled ReadContext call unblocks.
func (s *Scheduler) Abort() {
	atomic.StoreInt64(&s.numSamples, -1)
	s.abortOnce.Do(s.cancel)
}

// submit starts one transfer under its own per-read deadline
// (sizing.TimeoutMS, §4.8's "1.25x the time the pool should take to
// fill" budget), derived from the scheduler-wide ctx so Abort/parent
// cancellation still unblocks it immediately regardless of the deadline.
func (s *Scheduler) submit(ctx context.Context, slot int) {
	buf := make([]byte, s.sizing.Size)
	s.slots[slot] = &transferSlot{buf: buf}
	s.submittedTransfers++

	go func() {
		readCtx, cancel := context.WithTimeout(ctx, time.Duration(s.sizing.TimeoutMS)*time.Millisecond)
		defer cancel()
		n, err := s.dev.ReadEndpointContext(readCtx, s.ep, buf)
		s.done <- completion{slot: slot, n: n, err: err}
	}()
}

// handleCompletion applies §4.8's three-way completion taxonomy:
// Completed/TimedOut feed the trigger scanner and count toward
// MaxEmptyTransfers only when empty; NoDevice aborts immediately;
// any other transient error is tolerated up to MaxEmptyTransfers before
// giving up, the same as a TimedOut or empty read.
func (s *Scheduler) handleCompletion(ctx context.Context, c completion) {
	s.submittedTransfers--

	if s.ctx.Err() != nil {
		// The scheduler itself was aborted or its parent context expired
		// (not this transfer's own per-read deadline) - drain without
		// counting this as one more empty transfer.
		atomic.StoreInt64(&s.numSamples, -1)
		return
	}

	if atomic.LoadInt64(&s.numSamples) == -1 {
		// Already aborted (NoDevice, too many empty transfers, or
		// limit_samples reached): drain without emitting or resubmitting.
		return
	}

	switch {
	case c.err != nil && isNoDeviceError(c.err):
		atomic.StoreInt64(&s.numSamples, -1)
		return
	case c.err != nil && errors.Is(c.err, context.DeadlineExceeded) && c.n > 0:
		// TimedOut after part of the buffer arrived: deliver what was read.
		s.emptyTransferCount = 0
		s.deliver(c.slot, c.n)
	case c.err != nil:
		// TimedOut with nothing read (this transfer's own deadline elapsed)
		// or some other transient read error: tolerate up to MaxEmptyTransfers.
		s.emptyTransferCount++
	case c.n == 0:
		s.emptyTransferCount++
	default:
		s.emptyTransferCount = 0
		s.deliver(c.slot, c.n)
	}

	if s.emptyTransferCount > MaxEmptyTransfers {
		atomic.StoreInt64(&s.numSamples, -1)
		return
	}

	if s.limitSamples != 0 && uint64(atomic.LoadInt64(&s.numSamples)) >= s.limitSamples {
		atomic.StoreInt64(&s.numSamples, -1)
		return
	}

	s.submit(ctx, c.slot)
}

// deliver runs the software trigger scanner (if armed) over the buffer
// and emits TRIGGER/LOGIC packets, per §4.7, and the DSLogic test-mode
// sample check (if enabled), per spec §9.
func (s *Scheduler) deliver(slot, n int) {
	buf := s.slots[slot].buf[:n]

	if s.sample == nil && !s.testMode {
		s.emit(buf)
		atomic.AddInt64(&s.numSamples, int64(n/s.sampleWidth))
		return
	}

	samples := decodeSamples(buf, s.sampleWidth)
	if s.testMode {
		s.checkTestSamples(samples)
	}

	if s.sample == nil || s.fired {
		s.emit(buf)
		atomic.AddInt64(&s.numSamples, int64(n/s.sampleWidth))
		return
	}

	result := s.sample.Scan(samples)
	if !result.Fired {
		return
	}

	s.fired = true
	s.sink.Packet(Packet{Kind: PacketTrigger})

	prefix := make([]byte, len(result.MatchedSamples)*s.sampleWidth)
	encodeSamples(prefix, result.MatchedSamples, s.sampleWidth)
	s.emit(prefix)

	remainder := buf[result.Offset*s.sampleWidth:]
	if len(remainder) > 0 {
		s.emit(remainder)
	}
	atomic.AddInt64(&s.numSamples, int64(len(result.MatchedSamples)+len(remainder)/s.sampleWidth))
}

// testModeModulus is the wraparound period of the DSLogic test-mode
// expected sample counter, per spec §9's "wraps mod 65001".
const testModeModulus = 65001

// checkTestSamples verifies each sample against a running counter seeded
// from the first sample observed, reporting (never aborting on) any
// mismatch. The expected value is never reseeded from a mismatching
// sample, so a persistent divergence is visible in every following
// sample rather than silently resolving itself.
func (s *Scheduler) checkTestSamples(samples []uint16) {
	for _, cur := range samples {
		if !s.testSeeded {
			s.testExpected = cur
			s.testSeeded = true
		} else if cur != s.testExpected {
			s.testMismatches++
			log.Printf("acquisition: test-mode sample mismatch #%d: got %d, want %d", s.testMismatches, cur, s.testExpected)
		}
		s.testExpected = uint16((uint32(s.testExpected) + 1) % testModeModulus)
	}
}

func (s *Scheduler) emit(payload []byte) {
	if len(payload) == 0 {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.sink.Packet(Packet{Kind: PacketLogic, Payload: cp})
}

func decodeSamples(buf []byte, width int) []uint16 {
	out := make([]uint16, len(buf)/width)
	for i := range out {
		if width == 1 {
			out[i] = uint16(buf[i])
		} else {
			out[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		}
	}
	return out
}

func encodeSamples(dst []byte, samples []uint16, width int) {
	for i, s := range samples {
		if width == 1 {
			dst[i] = byte(s)
		} else {
			dst[2*i] = byte(s)
			dst[2*i+1] = byte(s >> 8)
		}
	}
}

// isNoDeviceError reports whether err indicates the device has gone away
// (disconnect mid-acquisition), matching the status == NoDevice branch of
// §4.8. gousb wraps the underlying libusb error code in its message
// rather than exposing a sentinel, so this matches on the libusb error
// text the same way the original driver's own logging does
// (libusb_error_name) rather than treating every error as fatal -
// context.DeadlineExceeded (a per-transfer TimedOut) and context.Canceled
// (scheduler shutdown, handled separately via ctx.Err() in
// handleCompletion) are deliberately not NoDevice-class.
func isNoDeviceError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no device") || strings.Contains(msg, "no_device")
}

// StartDSLogic runs the §4.9 DSLogic acquisition start sequence: stop any
// running acquisition, push the FPGA setting structure, submit the
// one-shot trigger-pos read, then hand off to a data Scheduler once the
// trigger-pos transfer completes.
func StartDSLogic(ctx context.Context, dev *transport.Device, setting protocol.DSLogicSetting, sizing BufferSizing, sampleWidth int, limitSamples uint64, testMode bool, sink Sink) (*Scheduler, error) {
	reqType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)

	stop := protocol.StopPayload()
	if _, err := dev.Control(reqType, uint8(protocol.CmdGetRevID), 0, 0, stop[:], 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("acquisition: dslogic stop: %w", err)
	}

	wire, err := setting.Marshal()
	if err != nil {
		return nil, fmt.Errorf("acquisition: marshal setting: %w", err)
	}
	count := protocol.SettingCountPayload(len(wire))
	if _, err := dev.Control(reqType, uint8(protocol.CmdDSLogicSetting), 0, 0, count[:], 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("acquisition: dslogic setting-count: %w", err)
	}
	if _, err := dev.BulkOut(2, wire, time.Second); err != nil {
		return nil, fmt.Errorf("acquisition: dslogic setting bulk-out: %w", err)
	}

	sink.Packet(Packet{Kind: PacketHeader})

	ep, err := dev.InEndpoint(6)
	if err != nil {
		return nil, fmt.Errorf("acquisition: endpoint 6: %w", err)
	}

	triggerPosBuf := make([]byte, protocol.TriggerPosResponseSize)
	n, err := dev.ReadEndpointContext(ctx, ep, triggerPosBuf)
	if err != nil {
		return nil, fmt.Errorf("acquisition: dslogic trigger-pos read: %w", err)
	}
	if _, err := protocol.UnmarshalTriggerPosResponse(triggerPosBuf[:n]); err != nil {
		return nil, fmt.Errorf("acquisition: dslogic trigger-pos decode: %w", err)
	}
	sink.Packet(Packet{Kind: PacketTrigger, Payload: triggerPosBuf[:n]})

	return NewScheduler(ctx, dev, ep, sizing, sampleWidth, limitSamples, nil, testMode, sink), nil
}
