package lxp

import (
	"encoding/binary"
	"encoding/json"
)

// TcpFunction is the outer frame type byte at header[7].
type TcpFunction uint8

const (
	FuncHeartbeat      TcpFunction = 193
	FuncTranslatedData TcpFunction = 194
	FuncReadParam      TcpFunction = 195
	FuncWriteParam     TcpFunction = 196
)

func (f TcpFunction) String() string {
	switch f {
	case FuncHeartbeat:
		return "Heartbeat"
	case FuncTranslatedData:
		return "TranslatedData"
	case FuncReadParam:
		return "ReadParam"
	case FuncWriteParam:
		return "WriteParam"
	}
	return "Unknown"
}

// DeviceFunction is the Modbus-derived function code inside TranslatedData.
type DeviceFunction uint8

const (
	ReadHold    DeviceFunction = 3
	ReadInput   DeviceFunction = 4
	WriteSingle DeviceFunction = 6
	WriteMulti  DeviceFunction = 16
)

func (f DeviceFunction) String() string {
	switch f {
	case ReadHold:
		return "ReadHold"
	case ReadInput:
		return "ReadInput"
	case WriteSingle:
		return "WriteSingle"
	case WriteMulti:
		return "WriteMulti"
	}
	return "Unknown"
}

// Well-known holding registers on the command surface.
const (
	RegModeBits              uint16 = 21  // bit field, see Register21Bits
	RegChargePowerPercentCmd uint16 = 64  // system charge rate (%)
	RegDischgPowerPercentCmd uint16 = 65  // system discharge rate (%)
	RegAcChargePowerCmd      uint16 = 66  // grid charge power rate (%)
	RegAcChargeSocLimit      uint16 = 67  // AC charge SOC limit (%)
	RegDischgCutOffSocEod    uint16 = 105 // discharge cut-off SOC (%)
)

// RegisterBit is a bit within RegModeBits.
type RegisterBit uint16

const (
	BitAcChargeEnable        RegisterBit = 1 << 7
	BitChargePriorityEnable  RegisterBit = 1 << 6
	BitForcedDischargeEnable RegisterBit = 1 << 10
)

// Pair is one register/value couple carried in a packet.
type Pair struct {
	Register uint16
	Value    uint16
}

// Packet is one parsed frame off the wire, or one to be sent.
type Packet interface {
	TcpFunction() TcpFunction
	PacketDatalog() Serial
}

type Heartbeat struct {
	Datalog Serial
}

func (h Heartbeat) TcpFunction() TcpFunction { return FuncHeartbeat }
func (h Heartbeat) PacketDatalog() Serial    { return h.Datalog }

// TranslatedData wraps a Modbus-like payload addressed to the inverter
// behind a datalog.
type TranslatedData struct {
	Datalog        Serial
	DeviceFunction DeviceFunction
	Inverter       Serial
	Register       uint16
	Values         []byte
}

func (td TranslatedData) TcpFunction() TcpFunction { return FuncTranslatedData }
func (td TranslatedData) PacketDatalog() Serial    { return td.Datalog }

// Value returns the first register value, for single-register replies.
func (td TranslatedData) Value() uint16 {
	if len(td.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(td.Values[0:2])
}

// Pairs expands Values into register/value couples, starting at Register.
func (td TranslatedData) Pairs() []Pair {
	return pairsFrom(td.Register, td.Values)
}

// RegisterMap returns Pairs as a lookup map for the register parser.
func (td TranslatedData) RegisterMap() map[uint16]uint16 {
	m := make(map[uint16]uint16, len(td.Values)/2)
	for _, p := range td.Pairs() {
		m[p.Register] = p.Value
	}
	return m
}

type ReadParam struct {
	Datalog  Serial
	Register uint16
	Values   []byte
}

func (rp ReadParam) TcpFunction() TcpFunction { return FuncReadParam }
func (rp ReadParam) PacketDatalog() Serial    { return rp.Datalog }

func (rp ReadParam) Value() uint16 {
	if len(rp.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(rp.Values[0:2])
}

func (rp ReadParam) Pairs() []Pair {
	return pairsFrom(rp.Register, rp.Values)
}

type WriteParam struct {
	Datalog  Serial
	Register uint16
	Values   []byte
}

func (wp WriteParam) TcpFunction() TcpFunction { return FuncWriteParam }
func (wp WriteParam) PacketDatalog() Serial    { return wp.Datalog }

func (wp WriteParam) Value() uint16 {
	if len(wp.Values) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(wp.Values[0:2])
}

func pairsFrom(start uint16, values []byte) []Pair {
	pairs := make([]Pair, 0, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		pairs = append(pairs, Pair{
			Register: start + uint16(i/2),
			Value:    binary.LittleEndian.Uint16(values[i : i+2]),
		})
	}
	return pairs
}

// Register21Bits decodes the mode bit field in holding register 21.
type Register21Bits struct {
	EpsEn            bool `json:"eps_en"`
	OvfLoadDerateEn  bool `json:"ovf_load_derate_en"`
	DrmsEn           bool `json:"drms_en"`
	LvrtEn           bool `json:"lvrt_en"`
	AntiIslandEn     bool `json:"anti_island_en"`
	NeutralDetectEn  bool `json:"neutral_detect_en"`
	GridOnPowerSsEn  bool `json:"grid_on_power_ss_en"`
	AcChargeEn       bool `json:"ac_charge_en"`
	SwSeamlessEn     bool `json:"sw_seamless_en"`
	SetToStandby     bool `json:"set_to_standby"`
	ForcedDischargeEn bool `json:"forced_discharge_en"`
	ChargePriorityEn bool `json:"charge_priority_en"`
	IsoEn            bool `json:"iso_en"`
	GfciEn           bool `json:"gfci_en"`
	DciEn            bool `json:"dci_en"`
	FeedInGridEn     bool `json:"feed_in_grid_en"`
}

func NewRegister21Bits(value uint16) Register21Bits {
	bit := func(n uint) bool { return value&(1<<n) != 0 }
	return Register21Bits{
		EpsEn:            bit(0),
		OvfLoadDerateEn:  bit(1),
		DrmsEn:           bit(2),
		LvrtEn:           bit(3),
		AntiIslandEn:     bit(4),
		NeutralDetectEn:  bit(5),
		GridOnPowerSsEn:  bit(6),
		AcChargeEn:       bit(7),
		SwSeamlessEn:     bit(8),
		SetToStandby:     bit(9),
		ForcedDischargeEn: bit(10),
		ChargePriorityEn: bit(11),
		IsoEn:            bit(12),
		GfciEn:           bit(13),
		DciEn:            bit(14),
		FeedInGridEn:     bit(15),
	}
}

func (b Register21Bits) JSON() string {
	out, _ := json.Marshal(b)
	return string(out)
}

// Register110Bits decodes the bit field in holding register 110.
type Register110Bits struct {
	UbPvGridOffEn     bool `json:"ub_pv_grid_off_en"`
	UbRunWithoutGrid  bool `json:"ub_run_without_grid"`
	UbMicroGridEn     bool `json:"ub_micro_grid_en"`
}

func NewRegister110Bits(value uint16) Register110Bits {
	bit := func(n uint) bool { return value&(1<<n) != 0 }
	return Register110Bits{
		UbPvGridOffEn:    bit(0),
		UbRunWithoutGrid: bit(1),
		UbMicroGridEn:    bit(2),
	}
}

func (b Register110Bits) JSON() string {
	out, _ := json.Marshal(b)
	return string(out)
}
