/*Package profile holds the static catalogue of supported Cypress FX2 and
DreamSourceLab DSLogic USB devices.

A Profile is immutable for the life of the process: it never changes
after the package is loaded, and Match never mutates the table it
searches. Callers look a device up by (vendor id, product id) and,
where the profile requires it, the device's manufacturer/product USB
string descriptors, which disambiguate devices that reuse a VID:PID
pair pre- and post-firmware-upload (DSLogic and Saleae Logic both
enumerate as 0925:3881 after firmware is loaded).
*/
package profile

import "fmt"

// Caps is a bitmask of capability flags carried by a Profile.
type Caps uint32

const (
	// Cap16Bit indicates the device can sample at 16-bit width.
	Cap16Bit Caps = 1 << iota
)

// Profile describes one supported device as shipped by the vendor.
type Profile struct {
	VendorID  uint16
	ProductID uint16

	// Vendor and Model are the display strings shown to a user.
	Vendor string
	Model  string

	// ModelVersion distinguishes hardware revisions sharing a VID:PID; empty if not applicable.
	ModelVersion string

	// Firmware is the path (relative to the driver's firmware directory) of the FX2 image to upload.
	Firmware string

	Caps Caps

	// DSLogic is true for profiles that carry the FPGA superset (hardware trigger, multiple acquisition modes).
	DSLogic bool

	// ExpectManufacturer and ExpectProduct, when non-empty, must match the device's
	// USB string descriptors exactly for this profile to be selected. Per §4.1, if
	// ExpectManufacturer is empty, ExpectProduct is not checked either, so that
	// pre-firmware devices (which have not yet renamed themselves) still match.
	ExpectManufacturer string
	ExpectProduct      string
}

// Is16Bit reports whether the profile's device can sample at 16-bit width.
func (p Profile) Is16Bit() bool {
	return p.Caps&Cap16Bit != 0
}

// Table is the static catalogue of supported devices, grounded on
// libsigrok's fx2lafw driver supported_fx2[] table.
var Table = []Profile{
	{
		VendorID: 0x08a9, ProductID: 0x0014,
		Vendor: "CWAV", Model: "USBee AX",
		Firmware: "fx2lafw-cwav-usbeeax.fw",
	},
	{
		VendorID: 0x08a9, ProductID: 0x0015,
		Vendor: "CWAV", Model: "USBee DX",
		Firmware: "fx2lafw-cwav-usbeedx.fw",
		Caps:     Cap16Bit,
	},
	{
		VendorID: 0x08a9, ProductID: 0x0009,
		Vendor: "CWAV", Model: "USBee SX",
		Firmware: "fx2lafw-cwav-usbeesx.fw",
	},
	{
		// DreamSourceLab DSLogic, before firmware upload.
		VendorID: 0x2A0E, ProductID: 0x0001,
		Vendor: "DreamSourceLab", Model: "DSLogic",
		Firmware: "dreamsourcelab-dslogic-fx2.fw",
		Caps:     Cap16Bit,
		DSLogic:  true,
	},
	{
		// DreamSourceLab DSLogic, after firmware upload. Shares its VID:PID
		// with Saleae Logic below; ExpectManufacturer/ExpectProduct disambiguate.
		VendorID: 0x0925, ProductID: 0x3881,
		Vendor: "DreamSourceLab", Model: "DSLogic",
		Firmware:           "dreamsourcelab-dslogic-fx2.fw",
		Caps:               Cap16Bit,
		DSLogic:            true,
		ExpectManufacturer: "DreamSourceLab",
		ExpectProduct:      "DSLogic",
	},
	{
		VendorID: 0x0925, ProductID: 0x3881,
		Vendor: "Saleae", Model: "Logic",
		Firmware: "fx2lafw-saleae-logic.fw",
	},
	{
		VendorID: 0x04B4, ProductID: 0x8613,
		Vendor: "Cypress", Model: "FX2",
		Firmware: "fx2lafw-cypress-fx2.fw",
		Caps:     Cap16Bit,
	},
	{
		VendorID: 0x16d0, ProductID: 0x0498,
		Vendor: "Braintechnology", Model: "USB-LPS",
		Firmware: "fx2lafw-braintechnology-usb-lps.fw",
		Caps:     Cap16Bit,
	},
}

// FX2Samplerates are the samplerates (Hz) offered by non-DSLogic fx2lafw devices.
var FX2Samplerates = []uint64{
	20_000, 25_000, 50_000, 100_000, 200_000, 250_000, 500_000,
	1_000_000, 2_000_000, 3_000_000, 4_000_000, 6_000_000, 8_000_000,
	12_000_000, 16_000_000, 24_000_000,
}

// DSLogicSamplerates are the samplerates (Hz) offered by DSLogic devices.
var DSLogicSamplerates = []uint64{
	10_000, 20_000, 50_000, 100_000, 200_000, 500_000,
	1_000_000, 2_000_000, 5_000_000, 10_000_000, 20_000_000, 25_000_000,
	50_000_000, 100_000_000, 200_000_000, 400_000_000,
}

// ErrProfileMismatch is returned by Match when no profile fits the given identity.
var ErrProfileMismatch = fmt.Errorf("no profile matches the given vendor/product id and string descriptors")

// Match returns the first profile whose vendor/product id equal vid/pid and
// whose optional expected manufacturer/product strings equal the device's,
// byte-exact. manufacturer and product may be nil when the device's string
// descriptors were not read (e.g. before a control transfer succeeds); in
// that case only profiles with no ExpectManufacturer requirement can match.
func Match(vid, pid uint16, manufacturer, product *string) (*Profile, error) {
	for i := range Table {
		p := &Table[i]
		if p.VendorID != vid || p.ProductID != pid {
			continue
		}
		if p.ExpectManufacturer == "" {
			// No expectation recorded: permit pre-firmware devices to match
			// regardless of whatever string descriptors happen to be present.
			return p, nil
		}
		if manufacturer == nil || *manufacturer != p.ExpectManufacturer {
			continue
		}
		if product == nil || *product != p.ExpectProduct {
			continue
		}
		return p, nil
	}
	return nil, ErrProfileMismatch
}

// manufacturerPrefixes and productPrefixes are the post-upload identity
// markers recognized across both the sigrok fx2lafw firmware and the
// DreamSourceLab DSLogic firmware.
var (
	manufacturerPrefixes = []string{"sigrok", "DreamSourceLab"}
	productPrefixes      = []string{"fx2lafw", "DSLogic"}
)

// IsFirmwareLoaded implements the conf-profile check of §4.1: it reports
// whether the device's manufacturer and product string descriptors
// indicate firmware has already been loaded, independent of its profile
// table entry.
func IsFirmwareLoaded(manufacturer, product string) bool {
	return hasAnyPrefix(manufacturer, manufacturerPrefixes) && hasAnyPrefix(product, productPrefixes)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}
