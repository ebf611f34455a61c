package device

import (
	"fmt"
	"strconv"
)

// Config option keys recognized on the host side, per §6.
const (
	OptConn          = "CONN"
	OptDeviceMode    = "DEVICE_MODE"
	OptExternalClock = "EXTERNAL_CLOCK"
	OptTestMode      = "TEST_MODE"
	OptSamplerate    = "SAMPLERATE"
	OptLimitSamples  = "LIMIT_SAMPLES"
	OptTriggerType   = "TRIGGER_TYPE"
	OptContinuous    = "CONTINUOUS"
)

// dslogicOnly lists the options that ErrNotApplicable applies to outside a DSLogic device.
var dslogicOnly = map[string]bool{
	OptDeviceMode:    true,
	OptExternalClock: true,
	OptTestMode:      true,
}

// ErrNotApplicable is returned by Get/Set when the option does not apply to this device.
var ErrNotApplicable = fmt.Errorf("device: option does not apply to this device")

// ErrUnknownOption is returned by Get/Set/List for an unrecognized key.
var ErrUnknownOption = fmt.Errorf("device: unknown option")

// ErrInvalidValue is returned by Set when value cannot be converted to the option's type.
var ErrInvalidValue = fmt.Errorf("device: invalid value for option")

// deviceModeNames and testModeNames map the string-valued options to their internal enums.
var deviceModeNames = map[string]DSLogicMode{
	"Logic Analyzer":   DSLogicModeLogic,
	"Oscilloscope":     DSLogicModeDSO,
	"Data Acquisition": DSLogicModeAnalog,
}

var testModeNames = map[string]DSLogicTestMode{
	"None":                DSLogicTestNone,
	"Internal Test":       DSLogicTestInternal,
	"External Test":       DSLogicTestExternal,
	"DRAM Loopback Test":  DSLogicTestLoopback,
}

func reverseLookup[V comparable](m map[string]V, v V) string {
	for k, mv := range m {
		if mv == v {
			return k
		}
	}
	return ""
}

// ListOptions returns every config option key recognized, applicable or not.
func (inst *Instance) ListOptions() []string {
	return []string{
		OptConn, OptDeviceMode, OptExternalClock, OptTestMode,
		OptSamplerate, OptLimitSamples, OptTriggerType, OptContinuous,
	}
}

// Get reads a config option's current value.
func (inst *Instance) Get(key string) (interface{}, error) {
	if dslogicOnly[key] && !inst.Acquisition.DSLogic {
		return nil, ErrNotApplicable
	}
	switch key {
	case OptConn:
		return fmt.Sprintf("%d.%d", inst.Bus, inst.Address), nil
	case OptDeviceMode:
		return reverseLookup(deviceModeNames, inst.Acquisition.DSLogicMode), nil
	case OptExternalClock:
		return inst.Acquisition.DSLogicExtClock, nil
	case OptTestMode:
		return reverseLookup(testModeNames, inst.Acquisition.DSLogicTest), nil
	case OptSamplerate:
		return inst.Acquisition.Samplerate, nil
	case OptLimitSamples:
		return inst.Acquisition.LimitSamples, nil
	case OptTriggerType:
		return inst.Acquisition.TriggerType, nil
	case OptContinuous:
		return inst.Acquisition.Continuous, nil
	default:
		return nil, ErrUnknownOption
	}
}

// Set assigns a config option's value, validating both type and
// applicability to this device, per §6/§7's Argument and NotApplicable
// error kinds.
func (inst *Instance) Set(key string, value interface{}) error {
	if dslogicOnly[key] && !inst.Acquisition.DSLogic {
		return ErrNotApplicable
	}
	switch key {
	case OptConn:
		return fmt.Errorf("%w: %s is read-only", ErrInvalidValue, key)
	case OptDeviceMode:
		s, ok := value.(string)
		mode, known := deviceModeNames[s]
		if !ok || !known {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.DSLogicMode = mode
	case OptExternalClock:
		b, err := asBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.DSLogicExtClock = b
	case OptTestMode:
		s, ok := value.(string)
		mode, known := testModeNames[s]
		if !ok || !known {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.DSLogicTest = mode
	case OptSamplerate:
		u, err := asUint64(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		if !inst.isSupportedSamplerate(u) {
			return fmt.Errorf("%w: %s=%d unsupported by this profile", ErrInvalidValue, key, u)
		}
		inst.Acquisition.Samplerate = u
	case OptLimitSamples:
		u, err := asUint64(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.LimitSamples = u
	case OptTriggerType:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.TriggerType = s
	case OptContinuous:
		b, err := asBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%v", ErrInvalidValue, key, value)
		}
		inst.Acquisition.Continuous = b
	default:
		return ErrUnknownOption
	}
	return nil
}

func (inst *Instance) isSupportedSamplerate(u uint64) bool {
	for _, s := range inst.Acquisition.Samplerates {
		if s == u {
			return true
		}
	}
	return false
}

func asBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("not a bool: %v", v)
	}
}

func asUint64(v interface{}) (uint64, error) {
	switch u := v.(type) {
	case uint64:
		return u, nil
	case int:
		return uint64(u), nil
	case string:
		return strconv.ParseUint(u, 10, 64)
	default:
		return 0, fmt.Errorf("not a uint64: %v", v)
	}
}
