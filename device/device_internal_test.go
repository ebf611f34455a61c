package device

import (
	"testing"

	"github.com/sigrok-go/fx2lafw/trigger"
)

func dslogicInstance() *Instance {
	return &Instance{
		Acquisition: AcquisitionContext{
			DSLogic:    true,
			Samplerate: 1_000_000,
		},
	}
}

func TestBuildDSLogicSettingSimpleModePopulatesAggregateStage(t *testing.T) {
	inst := dslogicInstance()
	inst.Acquisition.Hardware.Advanced = false
	inst.Acquisition.Hardware.Trigger0[trigger.AggregateStage] = trigger.Row{
		15: 'X', // probe 0, last element of the row; 'X' sets the mask bit
	}

	s := inst.buildDSLogicSetting()

	if s.TrigMask0[0] == 0 {
		t.Errorf("expected stage 0 to carry the aggregate row's mask, got 0")
	}
	for stage := 1; stage < 16; stage++ {
		if s.TrigMask0[stage] != 1 || s.TrigMask1[stage] != 1 {
			t.Errorf("stage %d: expected neutral mask 1/1, got %d/%d", stage, s.TrigMask0[stage], s.TrigMask1[stage])
		}
		if s.TrigLogic0[stage] != 2 || s.TrigLogic1[stage] != 2 {
			t.Errorf("stage %d: expected neutral logic 2/2, got %d/%d", stage, s.TrigLogic0[stage], s.TrigLogic1[stage])
		}
	}
}

func TestBuildDSLogicSettingAdvancedModePopulatesAllStages(t *testing.T) {
	inst := dslogicInstance()
	inst.Acquisition.Hardware.Advanced = true
	inst.Acquisition.Hardware.Trigger0[0] = trigger.Row{15: 'X'}
	inst.Acquisition.Hardware.Trigger0[15] = trigger.Row{15: 'X'}

	s := inst.buildDSLogicSetting()

	if s.TrigMask0[0] == 0 {
		t.Errorf("expected stage 0 populated from Trigger0[0], got mask 0")
	}
	if s.TrigMask0[15] == 0 {
		t.Errorf("expected stage 15 populated from Trigger0[15], got mask 0")
	}
}

func TestBuildDSLogicSettingLogicWordPacksInvertBit(t *testing.T) {
	if got := logicWord(1, true); got != 3 {
		t.Errorf("logicWord(OR, inv) = %d, want 3", got)
	}
	if got := logicWord(0, false); got != 0 {
		t.Errorf("logicWord(AND, !inv) = %d, want 0", got)
	}
}
