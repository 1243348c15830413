package lxp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates what a decoded register value holds.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindFloat
	KindText
	KindJSON
)

// Value is one decoded register field. Text values keep the raw integer
// around for sinks that want numbers (Influx).
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
}

func IntValue(v int64) Value       { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value   { return Value{Kind: KindFloat, Float: v} }
func TextValue(raw int64, s string) Value { return Value{Kind: KindText, Int: raw, Text: s} }
func JSONValue(raw int64, s string) Value { return Value{Kind: KindJSON, Int: raw, Text: s} }

// String renders the value the way it is published over MQTT.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	default:
		return v.Text
	}
}

// Raw returns the numeric form used for time-series sinks.
func (v Value) Raw() interface{} {
	switch v.Kind {
	case KindFloat:
		return v.Float
	default:
		return v.Int
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindJSON:
		return []byte(v.Text), nil
	default:
		return json.Marshal(v.Text)
	}
}

// RegisterParser decodes a set of raw register/value couples into named,
// scaled fields.
type RegisterParser struct {
	registers map[uint16]uint16
}

func NewRegisterParser(registers map[uint16]uint16) *RegisterParser {
	return &RegisterParser{registers: registers}
}

func (p *RegisterParser) ContainsRegister(register uint16) bool {
	_, ok := p.registers[register]
	return ok
}

// ParseInputs decodes input registers. Composites whose other half is
// missing are an error: input reads arrive in contiguous banks of 40, so
// a missing half means something upstream is broken.
func (p *RegisterParser) ParseInputs() (map[string]Value, error) {
	out := make(map[string]Value, len(p.registers))

	for r, v := range p.registers {
		if err := p.parseInput(out, r, v); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (p *RegisterParser) parseInput(out map[string]Value, r, v uint16) error {
	switch r {
	case 0:
		out["status"] = TextValue(int64(v), StatusText(v))
	case 1:
		out["v_pv_1"] = div10(v)
	case 2:
		out["v_pv_2"] = div10(v)
	case 3:
		out["v_pv_3"] = div10(v)
	case 4:
		out["v_bat"] = div10(v)
	case 5:
		out["soc"] = IntValue(int64(v & 0xff))
		out["soh"] = IntValue(int64(v >> 8))
	case 6:
		out["internal_fault"] = IntValue(int64(v))
	case 7:
		out["p_pv_1"] = IntValue(int64(v))
		sum, err := p.sum3(7, 8, 9)
		if err != nil {
			return err
		}
		out["p_pv"] = sum
	case 8:
		out["p_pv_2"] = IntValue(int64(v))
	case 9:
		out["p_pv_3"] = IntValue(int64(v))
	case 10:
		out["p_charge"] = IntValue(int64(v))
		// homebrew signed net flow, charge positive
		chg, err := p.valueFor(10)
		if err != nil {
			return err
		}
		dis, err := p.valueFor(11)
		if err != nil {
			return err
		}
		out["p_battery"] = IntValue(int64(chg) - int64(dis))
	case 11:
		out["p_discharge"] = IntValue(int64(v))
	case 12:
		out["v_ac_r"] = div10(v)
	case 13:
		out["v_ac_s"] = div10(v)
	case 14:
		out["v_ac_t"] = div10(v)
	case 15:
		out["f_ac"] = div100(v)
	case 16:
		out["p_inv"] = IntValue(int64(v))
	case 17:
		out["p_rec"] = IntValue(int64(v))
	case 18: // IinvRMS, unparsed
	case 19:
		out["pf"] = div1000(v)
	case 20:
		out["v_eps_r"] = div10(v)
	case 21:
		out["v_eps_s"] = div10(v)
	case 22:
		out["v_eps_t"] = div10(v)
	case 23:
		out["f_eps"] = div100(v)
	case 24:
		out["p_eps"] = IntValue(int64(v))
	case 25:
		out["s_eps"] = IntValue(int64(v))
	case 26:
		out["p_to_grid"] = IntValue(int64(v))
		// net grid flow, import positive
		toGrid, err := p.valueFor(26)
		if err != nil {
			return err
		}
		toUser, err := p.valueFor(27)
		if err != nil {
			return err
		}
		out["p_grid"] = IntValue(int64(toUser) - int64(toGrid))
	case 27:
		out["p_to_user"] = IntValue(int64(v))
	case 28:
		out["e_pv_day_1"] = div10(v)
		sum, err := p.sumf3(28, 29, 30)
		if err != nil {
			return err
		}
		out["e_pv_day"] = sum
	case 29:
		out["e_pv_day_2"] = div10(v)
	case 30:
		out["e_pv_day_3"] = div10(v)
	case 31:
		out["e_inv_day"] = div10(v)
	case 32:
		out["e_rec_day"] = div10(v)
	case 33:
		out["e_chg_day"] = div10(v)
	case 34:
		out["e_dischg_day"] = div10(v)
	case 35:
		out["e_eps_day"] = div10(v)
	case 36:
		out["e_to_grid_day"] = div10(v)
	case 37:
		out["e_to_user_day"] = div10(v)
	case 38:
		out["v_bus_1"] = div10(v)
	case 39:
		out["v_bus_2"] = div10(v)

	case 40:
		return p.composite(out, "e_pv_all_1", r, v)
	case 42:
		return p.composite(out, "e_pv_all_2", r, v)
	case 44:
		return p.composite(out, "e_pv_all_3", r, v)
	case 46:
		return p.composite(out, "e_inv_all", r, v)
	case 48:
		return p.composite(out, "e_rec_all", r, v)
	case 50:
		return p.composite(out, "e_chg_all", r, v)
	case 52:
		return p.composite(out, "e_dischg_all", r, v)
	case 54:
		return p.composite(out, "e_eps_all", r, v)
	case 56:
		return p.composite(out, "e_to_grid_all", r, v)
	case 58:
		return p.composite(out, "e_to_user_all", r, v)
	case 60:
		hi, err := p.valueFor(61)
		if err != nil {
			return err
		}
		code := int64(v) | int64(hi)<<16
		out["fault_code"] = TextValue(code, FaultCodeText(code))
	case 62:
		hi, err := p.valueFor(63)
		if err != nil {
			return err
		}
		code := int64(v) | int64(hi)<<16
		out["warning_code"] = TextValue(code, WarningCodeText(code))
	case 64:
		out["t_inner"] = IntValue(int64(v))
	case 65:
		out["t_rad_1"] = IntValue(int64(v))
	case 66:
		out["t_rad_2"] = IntValue(int64(v))
	case 67:
		out["t_bat"] = IntValue(int64(v))
	case 69:
		hi, err := p.valueFor(70)
		if err != nil {
			return err
		}
		out["runtime"] = IntValue(int64(v) | int64(hi)<<16)

	case 81:
		out["max_chg_curr"] = div100(v)
	case 82:
		out["max_dischg_curr"] = div100(v)
	case 83:
		out["charge_volt_ref"] = div10(v)
	case 84:
		out["dischg_cut_volt"] = div10(v)
	case 85, 86, 87, 88, 89, 90, 91, 92, 93, 94:
		out[fmt.Sprintf("bat_status_%d", r-85)] = IntValue(int64(v))
	case 95:
		out["bat_status_inv"] = IntValue(int64(v))
	case 96:
		out["bat_count"] = IntValue(int64(v))
	case 97:
		out["bat_capacity"] = IntValue(int64(v))
	case 98:
		out["bat_current"] = div100(v)
	case 99:
		out["bms_event_1"] = IntValue(int64(v))
	case 100:
		out["bms_event_2"] = IntValue(int64(v))
	case 101:
		out["max_cell_voltage"] = div1000(v)
	case 102:
		out["min_cell_voltage"] = div1000(v)
	case 103:
		out["max_cell_temp"] = div10(v)
	case 104:
		out["min_cell_temp"] = div10(v)
	case 105:
		out["bms_fw_update_state"] = IntValue(int64(v))
	case 106:
		out["cycle_count"] = IntValue(int64(v))
	case 107:
		out["vbat_inv"] = div10(v)

	case 121:
		out["v_gen"] = div10(v)
	case 122:
		out["f_gen"] = div100(v)
	case 123:
		out["p_gen"] = IntValue(int64(v))
	case 124:
		out["e_gen_day"] = div10(v)
	case 125:
		return p.composite(out, "e_gen_all", r, v)
	case 127:
		out["v_eps_l1"] = div10(v)
	case 128:
		out["v_eps_l2"] = div10(v)
	case 129:
		out["p_eps_l1"] = IntValue(int64(v))
	case 130:
		out["p_eps_l2"] = IntValue(int64(v))
	case 131:
		out["s_eps_l1"] = IntValue(int64(v))
	case 132:
		out["s_eps_l2"] = IntValue(int64(v))
	case 133:
		out["e_eps_l1_day"] = div10(v)
	case 134:
		out["e_eps_l2_day"] = div10(v)
	case 135:
		return p.composite(out, "e_eps_l1_all", r, v)
	case 137:
		return p.composite(out, "e_eps_l2_all", r, v)

	default:
		if r > 255 {
			return fmt.Errorf("unhandled input register %d", r)
		}
		// high halves of composites, reserved and not-yet-decoded registers
	}

	return nil
}

// ParseHolds decodes holding registers. Unknown registers are skipped
// silently: holds are commonly read one at a time and most are not
// interpreted.
func (p *RegisterParser) ParseHolds() map[string]Value {
	out := make(map[string]Value)

	for r, v := range p.registers {
		switch r {
		case 21:
			out["hold/21/bits"] = JSONValue(int64(v), NewRegister21Bits(v).JSON())
		case 110:
			out["hold/110/bits"] = JSONValue(int64(v), NewRegister110Bits(v).JSON())
		}
	}

	p.startEndTuple(out, "ac_charge/1", 68, 69)
	p.startEndTuple(out, "ac_charge/2", 70, 71)
	p.startEndTuple(out, "ac_charge/3", 72, 73)

	p.startEndTuple(out, "charge_priority/1", 76, 77)
	p.startEndTuple(out, "charge_priority/2", 78, 79)
	p.startEndTuple(out, "charge_priority/3", 80, 81)

	p.startEndTuple(out, "forced_discharge/1", 84, 85)
	p.startEndTuple(out, "forced_discharge/2", 86, 87)
	p.startEndTuple(out, "forced_discharge/3", 88, 89)

	p.startEndTuple(out, "ac_first/1", 152, 153)
	p.startEndTuple(out, "ac_first/2", 154, 155)
	p.startEndTuple(out, "ac_first/3", 156, 157)

	return out
}

// startEndTuple emits a {"start":"HH:MM","end":"HH:MM"} payload when both
// registers of a time range are present. Missing halves are not an error.
func (p *RegisterParser) startEndTuple(out map[string]Value, key string, r1, r2 uint16) {
	start, ok1 := p.registers[r1]
	end, ok2 := p.registers[r2]
	if !ok1 || !ok2 {
		return
	}
	out[key] = JSONValue(0, TimeRangeJSON([4]byte{
		byte(start), byte(start >> 8),
		byte(end), byte(end >> 8),
	}))
}

// TimeRangeJSON renders [start_hour, start_min, end_hour, end_min].
func TimeRangeJSON(v [4]byte) string {
	payload := struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{
		Start: fmt.Sprintf("%02d:%02d", v[0], v[1]),
		End:   fmt.Sprintf("%02d:%02d", v[2], v[3]),
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func (p *RegisterParser) composite(out map[string]Value, key string, r, v uint16) error {
	hi, err := p.valueFor(r + 1)
	if err != nil {
		return err
	}
	out[key] = FloatValue(float64(int64(v)|int64(hi)<<16) / 10.0)
	return nil
}

func (p *RegisterParser) sum3(a, b, c uint16) (Value, error) {
	va, err := p.valueFor(a)
	if err != nil {
		return Value{}, err
	}
	vb, err := p.valueFor(b)
	if err != nil {
		return Value{}, err
	}
	vc, err := p.valueFor(c)
	if err != nil {
		return Value{}, err
	}
	return IntValue(int64(va) + int64(vb) + int64(vc)), nil
}

func (p *RegisterParser) sumf3(a, b, c uint16) (Value, error) {
	sum, err := p.sum3(a, b, c)
	if err != nil {
		return Value{}, err
	}
	return FloatValue(float64(sum.Int) / 10.0), nil
}

func (p *RegisterParser) valueFor(register uint16) (uint16, error) {
	v, ok := p.registers[register]
	if !ok {
		return 0, fmt.Errorf("no value found for register %d", register)
	}
	return v, nil
}

func div10(v uint16) Value   { return FloatValue(float64(v) / 10.0) }
func div100(v uint16) Value  { return FloatValue(float64(v) / 100.0) }
func div1000(v uint16) Value { return FloatValue(float64(v) / 1000.0) }

// StatusText maps the status register to its display string.
func StatusText(status uint16) string {
	switch status {
	case 0x00:
		return "Standby"
	case 0x02:
		return "FW Updating"
	case 0x04:
		return "PV On-grid"
	case 0x08:
		return "PV Charge"
	case 0x0C:
		return "PV Charge On-grid"
	case 0x10:
		return "Battery On-grid"
	case 0x11:
		return "Bypass"
	case 0x14:
		return "PV & Battery On-grid"
	case 0x19:
		return "PV Charge + Bypass"
	case 0x20:
		return "AC Charge"
	case 0x28:
		return "PV & AC Charge"
	case 0x40:
		return "Battery Off-grid"
	case 0x80:
		return "PV Off-grid"
	case 0xC0:
		return "PV & Battery Off-grid"
	case 0x88:
		return "PV Charge Off-grid"
	}
	return "Unknown"
}

// FaultCodeText maps a fault bitmap to the description of its lowest set
// bit.
func FaultCodeText(value int64) string {
	if value == 0 {
		return "OK"
	}
	for i := 0; i <= 31; i++ {
		if value&(1<<i) != 0 {
			return faultBits[i]
		}
	}
	return "OK"
}

// WarningCodeText is the warning equivalent of FaultCodeText.
func WarningCodeText(value int64) string {
	if value == 0 {
		return "OK"
	}
	for i := 0; i <= 31; i++ {
		if value&(1<<i) != 0 {
			return warningBits[i]
		}
	}
	return "OK"
}

var faultBits = [32]string{
	"E000: Internal communication fault 1",
	"E001: Model fault",
	"E002: BatOnMosFail",
	"E003: CT Fail",
	"E004: Reserved",
	"E005: Reserved",
	"E006: Reserved",
	"E007: Reserved",
	"E008: CAN communication error in parallel system",
	"E009: master lost in parallel system",
	"E010: multiple master units in parallel system",
	"E011: AC input inconsistent in parallel system",
	"E012: UPS short",
	"E013: Reverse current on UPS output",
	"E014: Bus short",
	"E015: Phase error in three phase system",
	"E016: Relay check fault",
	"E017: Internal communication fault 2",
	"E018: Internal communication fault 3",
	"E019: Bus voltage high",
	"E020: EPS connection fault",
	"E021: PV voltage high",
	"E022: Over current protection",
	"E023: Neutral fault",
	"E024: PV short",
	"E025: Radiator temperature over range",
	"E026: Internal fault",
	"E027: Sample inconsistent between Main CPU and redundant CPU",
	"E028: Reserved",
	"E029: Reserved",
	"E030: Reserved",
	"E031: Internal communication fault 4",
}

var warningBits = [32]string{
	"W000: Battery communication failure",
	"W001: AFCI communication failure",
	"W002: AFCI high",
	"W003: Meter communication failure",
	"W004: Both charge and discharge forbidden by battery",
	"W005: Auto test failed",
	"W006: Reserved",
	"W007: LCD communication failure",
	"W008: FW version mismatch",
	"W009: Fan stuck",
	"W010: Reserved",
	"W011: Parallel number out of range",
	"W012: Bat On Mos",
	"W013: Overtemperature (NTC reading is too high)",
	"W014: Reserved",
	"W015: Battery reverse connection",
	"W016: Grid power outage",
	"W017: Grid voltage out of range",
	"W018: Grid frequency out of range",
	"W019: Reserved",
	"W020: PV insulation low",
	"W021: Leakage current high",
	"W022: DCI high",
	"W023: PV short",
	"W024: Reserved",
	"W025: Battery voltage high",
	"W026: Battery voltage low",
	"W027: Battery open circuit",
	"W028: EPS overload",
	"W029: EPS voltage high",
	"W030: Meter reverse connection",
	"W031: DCV high",
}
