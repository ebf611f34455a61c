/*Package firmware uploads the FX2 8051 firmware image and, for DSLogic
devices, the FPGA bitstream. Both uploads are bounded-timeout
synchronous transfers; neither keeps any state beyond the call.
*/
package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gousb"
	"github.com/sigrok-go/fx2lafw/protocol"
	"github.com/sigrok-go/fx2lafw/transport"
)

// Cypress EZ-USB firmware upload constants: request 0xA0 addresses the
// CPUCS register (0xE600); writing 1 halts the 8051, writing 0 resumes it.
const (
	cpucsRequest = 0xA0
	cpucsAddr    = 0xE600
	uploadChunk  = 4096
)

const controlTimeout = 100 * time.Millisecond
const bulkChunkTimeout = 1000 * time.Millisecond

// UploadFX2 stages an 8051 firmware image: asserts RESET, writes the image
// in uploadChunk-sized pieces at increasing addresses, then releases RESET.
func UploadFX2(dev *transport.Device, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("firmware: read %s: %w", path, err)
	}

	reqType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)

	if _, err := dev.Control(reqType, cpucsRequest, cpucsAddr, 0, []byte{1}, controlTimeout); err != nil {
		return fmt.Errorf("firmware: assert reset: %w", err)
	}

	for offset := 0; offset < len(data); offset += uploadChunk {
		end := offset + uploadChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		n, err := dev.Control(reqType, cpucsRequest, uint16(offset), 0, chunk, bulkChunkTimeout)
		if err != nil {
			return fmt.Errorf("firmware: write chunk at offset %d: %w", offset, err)
		}
		if n != len(chunk) {
			return fmt.Errorf("firmware: partial chunk at offset %d: wrote %d of %d bytes", offset, n, len(chunk))
		}
	}

	if _, err := dev.Control(reqType, cpucsRequest, cpucsAddr, 0, []byte{0}, controlTimeout); err != nil {
		return fmt.Errorf("firmware: release reset: %w", err)
	}
	return nil
}

// BitstreamChunkSize is the DSLogic FPGA bitstream's transfer chunk size
// (the Xilinx XC6SLX9's configuration bitstream size).
const BitstreamChunkSize = 340604

const dslogicConfigTimeout = 3000 * time.Millisecond
const postConfigSleep = 10 * time.Millisecond

// UploadDSLogicBitstream sends DSLOGIC_CONFIG to enter FPGA config mode,
// waits for the FPGA to be ready, then streams the bitstream file to bulk
// OUT endpoint 2 in BitstreamChunkSize chunks until EOF. Any partial
// transfer is an error.
func UploadDSLogicBitstream(dev *transport.Device, path string) error {
	reqType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	if _, err := dev.Control(reqType, uint8(protocol.CmdDSLogicConfig), 0, 0, nil, dslogicConfigTimeout); err != nil {
		return fmt.Errorf("firmware: dslogic fpga config command: %w", err)
	}
	time.Sleep(postConfigSleep)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("firmware: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, BitstreamChunkSize)
	for {
		n, err := f.Read(buf)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("firmware: read bitstream: %w", err)
			}
			break
		}
		written, werr := dev.BulkOut(2, buf[:n], time.Second)
		if werr != nil {
			return fmt.Errorf("firmware: write bitstream chunk: %w", werr)
		}
		if written != n {
			return fmt.Errorf("firmware: partial bitstream chunk: wrote %d of %d bytes", written, n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return nil
}
