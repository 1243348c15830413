package lxp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslatedDataValue(t *testing.T) {
	td := TranslatedData{Values: []byte{22, 6}}
	assert.Equal(t, uint16(1558), td.Value())

	assert.Zero(t, TranslatedData{}.Value())
	assert.Zero(t, TranslatedData{Values: []byte{1}}.Value())
}

func TestRegisterMap(t *testing.T) {
	td := TranslatedData{Register: 12, Values: []byte{22, 6, 20, 5}}

	assert.Equal(t, map[uint16]uint16{12: 1558, 13: 1300}, td.RegisterMap())
}

func TestPairsOddLengthIgnoresTrailingByte(t *testing.T) {
	td := TranslatedData{Register: 0, Values: []byte{1, 0, 2}}

	assert.Equal(t, []Pair{{Register: 0, Value: 1}}, td.Pairs())
}

func TestReadParamPairs(t *testing.T) {
	rp := ReadParam{Register: 7, Values: []byte{1, 0, 2, 0}}

	assert.Equal(t, []Pair{{Register: 7, Value: 1}, {Register: 8, Value: 2}}, rp.Pairs())
	assert.Equal(t, uint16(1), rp.Value())
}

func TestDeviceFunctionStrings(t *testing.T) {
	assert.Equal(t, "ReadHold", ReadHold.String())
	assert.Equal(t, "ReadInput", ReadInput.String())
	assert.Equal(t, "WriteSingle", WriteSingle.String())
	assert.Equal(t, "WriteMulti", WriteMulti.String())
	assert.Equal(t, "Unknown", DeviceFunction(99).String())
}

func TestRegister21BitsJSON(t *testing.T) {
	bits := NewRegister21Bits(uint16(BitAcChargeEnable) | 1)

	var decoded map[string]bool
	require.NoError(t, json.Unmarshal([]byte(bits.JSON()), &decoded))
	assert.True(t, decoded["ac_charge_en"])
	assert.True(t, decoded["eps_en"])
	assert.False(t, decoded["forced_discharge_en"])
}

func TestRegister110Bits(t *testing.T) {
	bits := NewRegister110Bits(0b101)
	assert.True(t, bits.UbPvGridOffEn)
	assert.False(t, bits.UbRunWithoutGrid)
	assert.True(t, bits.UbMicroGridEn)
}
