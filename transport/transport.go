/*Package transport wraps github.com/google/gousb so the rest of the
driver only ever deals with Control/BulkIn/BulkOut calls bounded by an
explicit timeout, never with raw libusb handles.

Exactly one interface is claimed per Device at a time. Control transfers
and interface claim/release are serialized through a Mutex (mirroring
comm.RemoteDevice's single-session discipline); bulk transfers take the
Mutex only to look up the claimed interface and then run unlocked, so the
acquisition scheduler's concurrent bulk-IN reads proceed in parallel.
*/
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// Candidate is a USB device discovered by Scan, before a profile has been matched to it.
type Candidate struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
}

// ErrNotClaimed is returned by BulkIn/BulkOut/InEndpoint, which require a claimed interface.
var ErrNotClaimed = fmt.Errorf("transport: no interface claimed")

// Scan opens every device on the bus matching any of the given
// (vendor, product) pairs just long enough to read its string
// descriptors, then closes it. It never keeps a device open.
func Scan(ctx *gousb.Context, pairs map[gousb.ID][]gousb.ID) ([]Candidate, error) {
	var out []Candidate
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		pids, ok := pairs[desc.Vendor]
		if !ok {
			return false
		}
		for _, pid := range pids {
			if pid == desc.Product {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("transport: scan: %w", err)
	}
	for _, d := range devs {
		manufacturer, _ := d.Manufacturer()
		product, _ := d.Product()
		out = append(out, Candidate{
			VendorID:     uint16(d.Desc.Vendor),
			ProductID:    uint16(d.Desc.Product),
			Manufacturer: manufacturer,
			Product:      product,
		})
		d.Close()
	}
	return out, nil
}

// Device is an opened, not-yet-claimed USB device.
type Device struct {
	mu sync.Mutex

	usb    *gousb.Device
	config *gousb.Config
	iface  *gousb.Interface

	ifaceDone  func()
	configDone func()
}

// Open opens the first device matching vid:pid and enables automatic detaching of any
// kernel driver bound to its interfaces, so the driver can claim the interface itself.
func Open(ctx *gousb.Context, vid, pid uint16) (*Device, error) {
	usbDev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, fmt.Errorf("transport: open %04x:%04x: %w", vid, pid, err)
	}
	if usbDev == nil {
		return nil, fmt.Errorf("transport: open %04x:%04x: device not present", vid, pid)
	}
	if err := usbDev.SetAutoDetach(true); err != nil {
		usbDev.Close()
		return nil, fmt.Errorf("transport: set auto detach: %w", err)
	}
	return &Device{usb: usbDev}, nil
}

// Strings reads the device's manufacturer and product string descriptors.
func (d *Device) Strings() (manufacturer, product string, err error) {
	manufacturer, err = d.usb.Manufacturer()
	if err != nil {
		return "", "", fmt.Errorf("transport: manufacturer string: %w", err)
	}
	product, err = d.usb.Product()
	if err != nil {
		return "", "", fmt.Errorf("transport: product string: %w", err)
	}
	return manufacturer, product, nil
}

// Claim selects configNum and claims (ifaceNum, altNum), releasing any interface previously claimed.
func (d *Device) Claim(configNum, ifaceNum, altNum int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked()

	cfg, err := d.usb.Config(configNum)
	if err != nil {
		return fmt.Errorf("transport: set config %d: %w", configNum, err)
	}
	iface, done, err := cfg.Interface(ifaceNum, altNum)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("transport: claim interface %d.%d: %w", ifaceNum, altNum, err)
	}
	d.config = cfg
	d.iface = iface
	d.ifaceDone = done
	d.configDone = cfg.Close
	return nil
}

func (d *Device) releaseLocked() {
	if d.ifaceDone != nil {
		d.ifaceDone()
		d.ifaceDone = nil
	}
	d.iface = nil
	if d.configDone != nil {
		d.configDone()
		d.configDone = nil
	}
	d.config = nil
}

// Control issues a control transfer bounded by timeout, per spec.md's 100ms
// default / 3000ms DSLogic-command control timeouts.
func (d *Device) Control(reqType, request uint8, val, idx uint16, data []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.usb.ControlTimeout = timeout
	n, err := d.usb.Control(reqType, request, val, idx, data)
	if err != nil {
		return n, fmt.Errorf("transport: control request 0x%02x: %w", request, err)
	}
	return n, nil
}

// BulkOut writes data to OUT endpoint epNum, bounded by timeout.
func (d *Device) BulkOut(epNum int, data []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	iface := d.iface
	d.mu.Unlock()
	if iface == nil {
		return 0, ErrNotClaimed
	}
	ep, err := iface.OutEndpoint(epNum)
	if err != nil {
		return 0, fmt.Errorf("transport: out endpoint %d: %w", epNum, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("transport: bulk out endpoint %d: %w", epNum, err)
	}
	return n, nil
}

// BulkIn reads into buf from IN endpoint epNum, bounded by timeout. A zero
// timeout blocks without a deadline, matching the long-running acquisition
// transfers whose cancellation is driven by the caller's context instead.
func (d *Device) BulkIn(epNum int, buf []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	iface := d.iface
	d.mu.Unlock()
	if iface == nil {
		return 0, ErrNotClaimed
	}
	ep, err := iface.InEndpoint(epNum)
	if err != nil {
		return 0, fmt.Errorf("transport: in endpoint %d: %w", epNum, err)
	}
	return d.ReadEndpoint(ep, buf, timeout)
}

// InEndpoint resolves a long-lived handle to IN endpoint epNum, for callers
// (the acquisition scheduler) that issue many reads against the same
// endpoint and want to avoid re-resolving it per read.
func (d *Device) InEndpoint(epNum int) (*gousb.InEndpoint, error) {
	d.mu.Lock()
	iface := d.iface
	d.mu.Unlock()
	if iface == nil {
		return nil, ErrNotClaimed
	}
	return iface.InEndpoint(epNum)
}

// ReadEndpoint reads from an already-resolved IN endpoint, bounded by timeout
// (zero meaning no deadline: the read blocks until it completes or fails).
func (d *Device) ReadEndpoint(ep *gousb.InEndpoint, buf []byte, timeout time.Duration) (int, error) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("transport: bulk in endpoint %d: %w", ep.Desc.Number, err)
	}
	return n, nil
}

// ReadEndpointContext reads from an already-resolved IN endpoint under a
// caller-supplied context, used by the acquisition scheduler so a single
// cancellation unblocks every in-flight transfer at once.
func (d *Device) ReadEndpointContext(ctx context.Context, ep *gousb.InEndpoint, buf []byte) (int, error) {
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		return n, fmt.Errorf("transport: bulk in endpoint %d: %w", ep.Desc.Number, err)
	}
	return n, nil
}

// Close releases the claimed interface/config (if any) and closes the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseLocked()
	return d.usb.Close()
}
