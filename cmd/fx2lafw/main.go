/*Command fx2lafw is a demonstration CLI for the driver: it scans the
USB bus for a supported device, brings it up (uploading firmware and
waiting for renumeration if needed), runs one acquisition, prints the
packets as they arrive, and tears everything back down.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/sigrok-go/fx2lafw/acquisition"
	"github.com/sigrok-go/fx2lafw/device"
	"github.com/sigrok-go/fx2lafw/profile"
)

// Version is injected via ldflags at build time.
var Version = "dev"

// ConfigFileName is the YAML config file read from the working directory, if present.
const ConfigFileName = "fx2lafw.yml"

var k = koanf.New(".")

type config struct {
	FirmwareDir  string `yaml:"FirmwareDir"`
	Samplerate   uint64 `yaml:"Samplerate"`
	LimitSamples uint64 `yaml:"LimitSamples"`
	RunSeconds   int    `yaml:"RunSeconds"`
}

func setupConfig() {
	k.Load(structs.Provider(config{
		FirmwareDir:  "/usr/local/share/sigrok-firmware",
		Samplerate:   1_000_000,
		LimitSamples: 0,
		RunSeconds:   2,
	}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") {
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func mkconf() {
	c := config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := yml.NewEncoder(f).Encode(c); err != nil {
		log.Fatal(err)
	}
}

// vidPidTable builds the Scan lookup table from the static profile catalogue.
func vidPidTable() map[gousb.ID][]gousb.ID {
	out := make(map[gousb.ID][]gousb.ID)
	for _, p := range profile.Table {
		vid := gousb.ID(p.VendorID)
		out[vid] = append(out[vid], gousb.ID(p.ProductID))
	}
	return out
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	ctx := context.Background()
	inst, err := device.Open(ctx, usbCtx, vidPidTable(), cfg.FirmwareDir)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer inst.Close()

	log.Printf("opened %s %s (status %s)", inst.Profile.Vendor, inst.Profile.Model, inst.Status)

	if err := inst.Set(device.OptSamplerate, cfg.Samplerate); err != nil {
		log.Fatalf("set samplerate: %v", err)
	}
	if err := inst.Set(device.OptLimitSamples, cfg.LimitSamples); err != nil {
		log.Fatalf("set limit_samples: %v", err)
	}
	channels := make([]device.Channel, 8)
	for i := range channels {
		channels[i] = device.Channel{Index: i, Enabled: true, Name: fmt.Sprintf("D%d", i)}
	}
	if err := inst.ConfigureChannels(channels); err != nil {
		log.Fatalf("configure channels: %v", err)
	}

	var totalBytes int
	sink := acquisition.SinkFunc(func(p acquisition.Packet) {
		switch p.Kind {
		case acquisition.PacketLogic, acquisition.PacketAnalog:
			totalBytes += len(p.Payload)
		}
		log.Printf("packet %s (%d bytes)", p.Kind, len(p.Payload))
	})

	// acqCtx bounds the whole run: when it expires the scheduler cancels
	// every in-flight transfer and drains to an END packet on its own, so
	// Run below returns as soon as that happens without an explicit Abort.
	acqCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.RunSeconds)*time.Second)
	defer cancel()

	sched, err := inst.StartAcquisition(acqCtx, sink)
	if err != nil {
		log.Fatalf("start acquisition: %v", err)
	}
	sched.Run()

	log.Printf("acquisition complete: %d bytes sampled", totalBytes)
}

func usage() {
	fmt.Println(`fx2lafw is a demonstration CLI for the Cypress FX2 / DreamSourceLab DSLogic driver.

Usage:
	fx2lafw <command>

Commands:
	run     scan, open, run one acquisition, and print packets
	mkconf  write a config file with default values
	version print the build version`)
}

func main() {
	setupConfig()
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "run":
		run()
	case "mkconf":
		mkconf()
	case "version":
		fmt.Printf("fx2lafw version %s\n", Version)
	default:
		usage()
	}
}
