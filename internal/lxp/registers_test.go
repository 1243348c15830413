package lxp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputsScaling(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		0:  0x10, // Battery On-grid
		1:  257,
		4:  521,
		5:  0x0201, // soc low byte, soh high byte
		7:  100,
		8:  200,
		9:  300,
		10: 1500,
		11: 500,
		15: 4999,
		19: 998,
		26: 250,
		27: 750,
	})

	out, err := parser.ParseInputs()
	require.NoError(t, err)

	assert.Equal(t, TextValue(0x10, "Battery On-grid"), out["status"])
	assert.Equal(t, FloatValue(25.7), out["v_pv_1"])
	assert.Equal(t, FloatValue(52.1), out["v_bat"])
	assert.Equal(t, IntValue(1), out["soc"])
	assert.Equal(t, IntValue(2), out["soh"])
	assert.Equal(t, IntValue(600), out["p_pv"])
	assert.Equal(t, IntValue(1000), out["p_battery"])
	assert.Equal(t, FloatValue(49.99), out["f_ac"])
	assert.Equal(t, FloatValue(0.998), out["pf"])
	assert.Equal(t, IntValue(500), out["p_grid"])
}

func TestParseInputsComposite(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		40: 0x0001, // low half
		41: 0x0001, // high half: 65537 / 10
	})

	out, err := parser.ParseInputs()
	require.NoError(t, err)
	assert.InDelta(t, 6553.7, out["e_pv_all_1"].Float, 0.0001)
}

// an input composite missing its other half is a protocol bug upstream
func TestParseInputsMissingCompositeHalf(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{40: 1})

	_, err := parser.ParseInputs()
	assert.Error(t, err)
}

func TestParseInputsFaultAndWarning(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		60: 0, 61: 1 << 3, // bit 19 of the 32-bit code
		62: 1 << 4, 63: 0, // bit 4
	})

	out, err := parser.ParseInputs()
	require.NoError(t, err)

	assert.Equal(t, "E019: Bus voltage high", out["fault_code"].Text)
	assert.Equal(t, int64(1)<<19, out["fault_code"].Int)
	assert.Equal(t, "W004: Both charge and discharge forbidden by battery", out["warning_code"].Text)
}

func TestParseInputsCleanCodes(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		60: 0, 61: 0,
		62: 0, 63: 0,
	})

	out, err := parser.ParseInputs()
	require.NoError(t, err)
	assert.Equal(t, "OK", out["fault_code"].Text)
	assert.Equal(t, "OK", out["warning_code"].Text)
}

func TestParseInputsUnknownRegistersIgnored(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{200: 1, 255: 2})

	out, err := parser.ParseInputs()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseHoldsBitRegisters(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		21: 1<<7 | 1<<10,
	})

	out := parser.ParseHolds()
	require.Contains(t, out, "hold/21/bits")

	bits := NewRegister21Bits(1<<7 | 1<<10)
	assert.True(t, bits.AcChargeEn)
	assert.True(t, bits.ForcedDischargeEn)
	assert.False(t, bits.ChargePriorityEn)
	assert.Equal(t, bits.JSON(), out["hold/21/bits"].Text)
}

func TestParseHoldsTimeRanges(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{
		// 01:30 - 05:45, hour in the low byte, minute in the high byte
		76: 0x1E01,
		77: 0x2D05,
	})

	out := parser.ParseHolds()
	require.Contains(t, out, "charge_priority/1")
	assert.Equal(t, `{"start":"01:30","end":"05:45"}`, out["charge_priority/1"].Text)
}

// a time range missing one half just doesn't appear; holds are often read
// singly
func TestParseHoldsPartialTimeRange(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{76: 0x1E01})

	out := parser.ParseHolds()
	assert.NotContains(t, out, "charge_priority/1")
}

func TestParseHoldsUnknownRegistersSilent(t *testing.T) {
	parser := NewRegisterParser(map[uint16]uint16{3: 9, 200: 1})

	assert.Empty(t, parser.ParseHolds())
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Standby", StatusText(0x00))
	assert.Equal(t, "AC Charge", StatusText(0x20))
	assert.Equal(t, "Unknown", StatusText(0x7777))
}

func TestFaultCodeLowestBitWins(t *testing.T) {
	assert.Equal(t, "E012: UPS short", FaultCodeText(1<<12|1<<20))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "1558", IntValue(1558).String())
	assert.Equal(t, "25.7", FloatValue(25.7).String())
	assert.Equal(t, "Standby", TextValue(0, "Standby").String())
}
