package coordinator

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
)

type CommandKind int

const (
	CmdReadInputs CommandKind = iota
	CmdReadInput
	CmdReadHold
	CmdReadParam
	CmdWriteParam
	CmdSetHold
	CmdAcCharge
	CmdChargePriority
	CmdForcedDischarge
	CmdChargeRate
	CmdDischargeRate
	CmdAcChargeRate
	CmdAcChargeSocLimit
	CmdDischargeCutoffSocLimit
	CmdReadTimeRegister
	CmdSetTimeRegister
)

// TimeAction names one of the four time-window register families.
type TimeAction int

const (
	ActionAcCharge TimeAction = iota
	ActionAcFirst
	ActionChargePriority
	ActionForcedDischarge
)

func (a TimeAction) Key() string {
	switch a {
	case ActionAcCharge:
		return "ac_charge"
	case ActionAcFirst:
		return "ac_first"
	case ActionChargePriority:
		return "charge_priority"
	case ActionForcedDischarge:
		return "forced_discharge"
	}
	return "unknown"
}

// Register returns the start register holding the slot's time window.
func (a TimeAction) Register(slot uint16) (uint16, error) {
	if slot < 1 || slot > 3 {
		return 0, fmt.Errorf("unsupported time register slot %d", slot)
	}

	var base uint16
	switch a {
	case ActionAcCharge:
		base = 68
	case ActionAcFirst:
		base = 152
	case ActionChargePriority:
		base = 76
	case ActionForcedDischarge:
		base = 84
	default:
		return 0, fmt.Errorf("unsupported time register action")
	}

	return base + (slot-1)*2, nil
}

func timeActionForKey(key string) (TimeAction, bool) {
	switch key {
	case "ac_charge":
		return ActionAcCharge, true
	case "ac_first":
		return ActionAcFirst, true
	case "charge_priority":
		return ActionChargePriority, true
	case "forced_discharge":
		return ActionForcedDischarge, true
	}
	return 0, false
}

// Command is one parsed MQTT instruction bound to a target inverter.
type Command struct {
	Kind     CommandKind
	Inverter config.Inverter

	Bank       uint16
	Register   uint16
	Count      uint16
	Value      uint16
	Enable     bool
	Action     TimeAction
	Slot       uint16
	TimeValues [4]byte
}

// ResultTopic is where OK/FAIL for this command is published.
func (c Command) ResultTopic() string {
	datalog := c.Inverter.Datalog

	var rest string
	switch c.Kind {
	case CmdReadInputs:
		rest = fmt.Sprintf("%s/read/inputs/%d", datalog, c.Bank)
	case CmdReadInput:
		rest = fmt.Sprintf("%s/read/input/%d", datalog, c.Register)
	case CmdReadHold:
		rest = fmt.Sprintf("%s/read/hold/%d", datalog, c.Register)
	case CmdReadParam:
		rest = fmt.Sprintf("%s/read/param/%d", datalog, c.Register)
	case CmdWriteParam:
		rest = fmt.Sprintf("%s/set/param/%d", datalog, c.Register)
	case CmdSetHold:
		rest = fmt.Sprintf("%s/set/hold/%d", datalog, c.Register)
	case CmdAcCharge:
		rest = fmt.Sprintf("%s/set/ac_charge", datalog)
	case CmdChargePriority:
		rest = fmt.Sprintf("%s/set/charge_priority", datalog)
	case CmdForcedDischarge:
		rest = fmt.Sprintf("%s/set/forced_discharge", datalog)
	case CmdChargeRate:
		rest = fmt.Sprintf("%s/set/charge_rate_pct", datalog)
	case CmdDischargeRate:
		rest = fmt.Sprintf("%s/set/discharge_rate_pct", datalog)
	case CmdAcChargeRate:
		rest = fmt.Sprintf("%s/set/ac_charge_rate_pct", datalog)
	case CmdAcChargeSocLimit:
		rest = fmt.Sprintf("%s/set/ac_charge_soc_limit_pct", datalog)
	case CmdDischargeCutoffSocLimit:
		rest = fmt.Sprintf("%s/set/discharge_cutoff_soc_limit_pct", datalog)
	case CmdReadTimeRegister:
		rest = fmt.Sprintf("%s/read/%s/%d", datalog, c.Action.Key(), c.Slot)
	case CmdSetTimeRegister:
		rest = fmt.Sprintf("%s/set/%s/%d", datalog, c.Action.Key(), c.Slot)
	}

	return fmt.Sprintf("result/%s", rest)
}

// ParseCommand turns a cmd topic's verb parts and payload into a Command
// for one inverter.
func ParseCommand(inv config.Inverter, parts []string, msg mqtt.Message) (Command, error) {
	cmd := Command{Inverter: inv}

	switch {
	case len(parts) == 3 && parts[0] == "read" && parts[1] == "inputs":
		bank, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil || bank < 1 || bank > 4 {
			return cmd, fmt.Errorf("invalid inputs bank %q", parts[2])
		}
		cmd.Kind = CmdReadInputs
		cmd.Bank = uint16(bank)
	case len(parts) == 3 && parts[0] == "read" && parts[1] == "input":
		register, err := parseRegister(parts[2])
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdReadInput
		cmd.Register = register
		cmd.Count = msg.PayloadIntOr1()
	case len(parts) == 3 && parts[0] == "read" && parts[1] == "hold":
		register, err := parseRegister(parts[2])
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdReadHold
		cmd.Register = register
		cmd.Count = msg.PayloadIntOr1()
	case len(parts) == 3 && parts[0] == "read" && parts[1] == "param":
		register, err := parseRegister(parts[2])
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdReadParam
		cmd.Register = register
	case len(parts) == 3 && parts[0] == "read":
		action, ok := timeActionForKey(parts[1])
		if !ok {
			return cmd, fmt.Errorf("unhandled command topic: %s", msg.Topic)
		}
		slot, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return cmd, fmt.Errorf("invalid time register slot %q", parts[2])
		}
		cmd.Kind = CmdReadTimeRegister
		cmd.Action = action
		cmd.Slot = uint16(slot)
	case len(parts) == 3 && parts[0] == "set" && parts[1] == "hold":
		register, err := parseRegister(parts[2])
		if err != nil {
			return cmd, err
		}
		value, err := msg.PayloadInt()
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdSetHold
		cmd.Register = register
		cmd.Value = value
	case len(parts) == 3 && parts[0] == "set" && parts[1] == "param":
		register, err := parseRegister(parts[2])
		if err != nil {
			return cmd, err
		}
		value, err := msg.PayloadInt()
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdWriteParam
		cmd.Register = register
		cmd.Value = value
	case len(parts) == 3 && parts[0] == "set":
		action, ok := timeActionForKey(parts[1])
		if !ok {
			return cmd, fmt.Errorf("unhandled command topic: %s", msg.Topic)
		}
		slot, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return cmd, fmt.Errorf("invalid time register slot %q", parts[2])
		}
		values, err := parseTimeRangePayload(msg.Payload)
		if err != nil {
			return cmd, err
		}
		cmd.Kind = CmdSetTimeRegister
		cmd.Action = action
		cmd.Slot = uint16(slot)
		cmd.TimeValues = values
	case len(parts) == 2 && parts[0] == "set":
		switch parts[1] {
		case "ac_charge":
			cmd.Kind = CmdAcCharge
			cmd.Enable = msg.PayloadBool()
		case "charge_priority":
			cmd.Kind = CmdChargePriority
			cmd.Enable = msg.PayloadBool()
		case "forced_discharge":
			cmd.Kind = CmdForcedDischarge
			cmd.Enable = msg.PayloadBool()
		case "charge_rate_pct":
			return pctCommand(cmd, CmdChargeRate, msg)
		case "discharge_rate_pct":
			return pctCommand(cmd, CmdDischargeRate, msg)
		case "ac_charge_rate_pct":
			return pctCommand(cmd, CmdAcChargeRate, msg)
		case "ac_charge_soc_limit_pct":
			return pctCommand(cmd, CmdAcChargeSocLimit, msg)
		case "discharge_cutoff_soc_limit_pct":
			return pctCommand(cmd, CmdDischargeCutoffSocLimit, msg)
		default:
			return cmd, fmt.Errorf("unhandled command topic: %s", msg.Topic)
		}
	default:
		return cmd, fmt.Errorf("unhandled command topic: %s", msg.Topic)
	}

	return cmd, nil
}

func pctCommand(cmd Command, kind CommandKind, msg mqtt.Message) (Command, error) {
	value, err := msg.PayloadInt()
	if err != nil {
		return cmd, err
	}
	// percentages clamp client-side
	if value > 100 {
		value = 100
	}
	cmd.Kind = kind
	cmd.Value = value
	return cmd, nil
}

func parseRegister(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	return uint16(v), nil
}

// parseTimeRangePayload accepts {"start":"HH:MM","end":"HH:MM"}.
func parseTimeRangePayload(payload string) ([4]byte, error) {
	var out [4]byte

	var parsed struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return out, fmt.Errorf("invalid time range payload: %w", err)
	}

	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(parsed.Start, "%d:%d", &sh, &sm); err != nil {
		return out, fmt.Errorf("invalid start time %q", parsed.Start)
	}
	if _, err := fmt.Sscanf(parsed.End, "%d:%d", &eh, &em); err != nil {
		return out, fmt.Errorf("invalid end time %q", parsed.End)
	}
	if sh > 23 || sm > 59 || eh > 23 || em > 59 || sh < 0 || sm < 0 || eh < 0 || em < 0 {
		return out, fmt.Errorf("time range out of bounds: %s-%s", parsed.Start, parsed.End)
	}

	out = [4]byte{byte(sh), byte(sm), byte(eh), byte(em)}
	return out, nil
}
