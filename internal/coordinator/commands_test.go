package coordinator

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

func TestReadHoldBuildsRequest(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	var request lxp.TranslatedData
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		request = p.(lxp.TranslatedData)
		return echoReply(p)
	})

	_, err := coord.ReadHold(context.Background(), inv, 12, 3)
	require.NoError(t, err)

	assert.Equal(t, lxp.ReadHold, request.DeviceFunction)
	assert.Equal(t, inv.Datalog, request.Datalog)
	assert.Equal(t, inv.Serial, request.Inverter)
	assert.Equal(t, uint16(12), request.Register)
	assert.Equal(t, []byte{3, 0}, request.Values)
}

func TestReadInputsBankRegisters(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	var requests []lxp.TranslatedData
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		requests = append(requests, p.(lxp.TranslatedData))
		return echoReply(p)
	})

	for bank := uint16(1); bank <= 4; bank++ {
		cmd := Command{Kind: CmdReadInputs, Inverter: inv, Bank: bank}
		require.NoError(t, coord.ProcessCommand(context.Background(), cmd))
	}

	require.Len(t, requests, 4)
	for i, register := range []uint16{0, 40, 80, 120} {
		assert.Equal(t, register, requests[i].Register)
		assert.Equal(t, lxp.ReadInput, requests[i].DeviceFunction)
		assert.Equal(t, []byte{40, 0}, requests[i].Values)
	}
}

func TestReadHoldNoConnectionListening(t *testing.T) {
	coord, _ := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	_, err := coord.ReadHold(context.Background(), inv, 12, 1)
	assert.Error(t, err)
}

func TestSetHoldVerifiesEcho(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	responder(t, channels, echoReply)

	reply, err := coord.SetHold(context.Background(), inv, 64, 75)
	require.NoError(t, err)
	assert.Equal(t, uint16(75), reply.Value())
}

func TestSetHoldValueMismatch(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		td := p.(lxp.TranslatedData)
		td.Values = []byte{99, 0} // inverter disagreed
		return []lxp.Packet{td}
	})

	_, err := coord.SetHold(context.Background(), inv, 64, 75)
	assert.ErrorIs(t, err, ErrValueMismatch)
}

func TestUpdateHoldSetsBit(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	const initial = uint16(0x0004)

	var written uint16
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		td := p.(lxp.TranslatedData)
		switch td.DeviceFunction {
		case lxp.ReadHold:
			td.Values = binary.LittleEndian.AppendUint16(nil, initial)
		case lxp.WriteSingle:
			written = td.Value()
		}
		return []lxp.Packet{td}
	})

	_, err := coord.UpdateHold(context.Background(), inv, lxp.RegModeBits, lxp.BitAcChargeEnable, true)
	require.NoError(t, err)
	assert.Equal(t, initial|uint16(lxp.BitAcChargeEnable), written)
}

func TestUpdateHoldClearsBit(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	initial := uint16(0x0004) | uint16(lxp.BitForcedDischargeEnable)

	var written uint16
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		td := p.(lxp.TranslatedData)
		switch td.DeviceFunction {
		case lxp.ReadHold:
			td.Values = binary.LittleEndian.AppendUint16(nil, initial)
		case lxp.WriteSingle:
			written = td.Value()
		}
		return []lxp.Packet{td}
	})

	_, err := coord.UpdateHold(context.Background(), inv, lxp.RegModeBits, lxp.BitForcedDischargeEnable, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0004), written)
}

func TestWriteParamZeroMeansSuccess(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		wp := p.(lxp.WriteParam)
		// the datalog replies 0 on success, very odd
		wp.Values = []byte{0, 0}
		return []lxp.Packet{wp}
	})

	_, err := coord.WriteParam(context.Background(), inv, 7, 300)
	assert.NoError(t, err)
}

func TestWriteParamNonZeroFails(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]

	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		wp := p.(lxp.WriteParam)
		wp.Values = []byte{1, 0}
		return []lxp.Packet{wp}
	})

	_, err := coord.WriteParam(context.Background(), inv, 7, 300)
	assert.Error(t, err)
}

func TestCommandTimesOutWithoutReply(t *testing.T) {
	coord, channels := testCoordinator(t)
	coord.ReplyTimeout = 0 // fail immediately
	inv := coord.cfg.Inverters[0]

	responder(t, channels, func(lxp.Packet) []lxp.Packet { return nil })

	_, err := coord.ReadHold(context.Background(), inv, 12, 1)
	assert.ErrorIs(t, err, inverter.ErrReplyTimeout)
}

func TestReadTimeRegisterPublishes(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]
	messages := collectMqtt(t, channels)

	var request lxp.TranslatedData
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		request = p.(lxp.TranslatedData)
		td := request
		td.Values = []byte{1, 30, 5, 45} // 01:30 - 05:45
		return []lxp.Packet{td}
	})

	err := coord.ReadTimeRegister(context.Background(), inv, ActionAcCharge, 1)
	require.NoError(t, err)

	assert.Equal(t, uint16(68), request.Register)
	assert.Equal(t, []byte{2, 0}, request.Values)

	msg := nextMessage(t, messages)
	assert.Equal(t, "2222222222/ac_charge/1", msg.Topic)
	assert.Equal(t, `{"start":"01:30","end":"05:45"}`, msg.Payload)
	assert.True(t, msg.Retain)
}

func TestTimeActionRegisters(t *testing.T) {
	tests := []struct {
		action TimeAction
		slot   uint16
		want   uint16
	}{
		{ActionAcCharge, 1, 68},
		{ActionAcCharge, 2, 70},
		{ActionAcCharge, 3, 72},
		{ActionAcFirst, 1, 152},
		{ActionAcFirst, 2, 154},
		{ActionAcFirst, 3, 156},
		{ActionChargePriority, 1, 76},
		{ActionChargePriority, 2, 78},
		{ActionChargePriority, 3, 80},
		{ActionForcedDischarge, 1, 84},
		{ActionForcedDischarge, 2, 86},
		{ActionForcedDischarge, 3, 88},
	}

	for _, tc := range tests {
		got, err := tc.action.Register(tc.slot)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s slot %d", tc.action.Key(), tc.slot)
	}

	_, err := ActionAcCharge.Register(4)
	assert.Error(t, err)
}

func TestSetTimeRegisterWritesBothHalves(t *testing.T) {
	coord, channels := testCoordinator(t)
	inv := coord.cfg.Inverters[0]
	messages := collectMqtt(t, channels)

	var writes []lxp.TranslatedData
	responder(t, channels, func(p lxp.Packet) []lxp.Packet {
		td := p.(lxp.TranslatedData)
		if td.DeviceFunction == lxp.WriteSingle {
			writes = append(writes, td)
		}
		return []lxp.Packet{td}
	})

	err := coord.SetTimeRegister(context.Background(), inv, ActionForcedDischarge, 2, [4]byte{1, 30, 5, 45})
	require.NoError(t, err)

	require.Len(t, writes, 2)
	assert.Equal(t, uint16(86), writes[0].Register)
	assert.Equal(t, []byte{1, 30}, writes[0].Values)
	assert.Equal(t, uint16(87), writes[1].Register)
	assert.Equal(t, []byte{5, 45}, writes[1].Values)

	msg := nextMessage(t, messages)
	assert.Equal(t, "2222222222/forced_discharge/2", msg.Topic)
	assert.Equal(t, `{"start":"01:30","end":"05:45"}`, msg.Payload)
}
