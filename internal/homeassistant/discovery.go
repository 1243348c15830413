// Package homeassistant builds MQTT auto-discovery payloads so Home
// Assistant picks up each inverter's entities without manual YAML.
// Everything here is stateless templating; the messages are published
// retained when the broker session comes up.
package homeassistant

import (
	"encoding/json"
	"fmt"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
)

type device struct {
	Manufacturer string    `json:"manufacturer"`
	Name         string    `json:"name"`
	Identifiers  [1]string `json:"identifiers"`
}

type availability struct {
	Topic string `json:"topic"`
}

// https://www.home-assistant.io/integrations/sensor.mqtt/
type sensor struct {
	UniqueID          string `json:"unique_id"`
	Name              string `json:"name"`
	StateTopic        string `json:"state_topic"`
	EntityCategory    string `json:"entity_category,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	ValueTemplate     string `json:"value_template,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	Icon              string `json:"icon,omitempty"`

	Device       device       `json:"device"`
	Availability availability `json:"availability"`
}

// https://www.home-assistant.io/integrations/switch.mqtt/
type swtch struct {
	UniqueID      string `json:"unique_id"`
	Name          string `json:"name"`
	StateTopic    string `json:"state_topic"`
	CommandTopic  string `json:"command_topic"`
	ValueTemplate string `json:"value_template"`
	PayloadOn     string `json:"payload_on"`
	PayloadOff    string `json:"payload_off"`

	Device       device       `json:"device"`
	Availability availability `json:"availability"`
}

// https://www.home-assistant.io/integrations/number.mqtt/
type number struct {
	UniqueID          string  `json:"unique_id"`
	Name              string  `json:"name"`
	StateTopic        string  `json:"state_topic"`
	CommandTopic      string  `json:"command_topic"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Step              float64 `json:"step"`
	UnitOfMeasurement string  `json:"unit_of_measurement"`

	Device       device       `json:"device"`
	Availability availability `json:"availability"`
}

type sensorSpec struct {
	key         string
	name        string
	deviceClass string
	stateClass  string
	unit        string
	icon        string
	category    string
}

var sensorSpecs = []sensorSpec{
	{key: "status", name: "Status"},
	{key: "soc", name: "State of Charge", deviceClass: "battery", stateClass: "measurement", unit: "%"},
	{key: "soh", name: "State of Health", stateClass: "measurement", unit: "%"},
	{key: "fault_code", name: "Fault Code", category: "diagnostic", icon: "mdi:alert"},
	{key: "warning_code", name: "Warning Code", category: "diagnostic", icon: "mdi:alert-outline"},

	{key: "v_bat", name: "Battery Voltage", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_ac_r", name: "Grid Voltage", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_pv_1", name: "PV Voltage (String 1)", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_pv_2", name: "PV Voltage (String 2)", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_pv_3", name: "PV Voltage (String 3)", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_eps_r", name: "EPS Voltage", deviceClass: "voltage", stateClass: "measurement", unit: "V"},
	{key: "v_gen", name: "Generator Voltage", deviceClass: "voltage", stateClass: "measurement", unit: "V"},

	{key: "f_ac", name: "Grid Frequency", deviceClass: "frequency", stateClass: "measurement", unit: "Hz"},
	{key: "f_eps", name: "EPS Frequency", deviceClass: "frequency", stateClass: "measurement", unit: "Hz"},
	{key: "f_gen", name: "Generator Frequency", deviceClass: "frequency", stateClass: "measurement", unit: "Hz"},

	{key: "p_pv", name: "PV Power (Array)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_pv_1", name: "PV Power (String 1)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_pv_2", name: "PV Power (String 2)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_pv_3", name: "PV Power (String 3)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_battery", name: "Battery Power (discharge is negative)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_charge", name: "Battery Charge", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_discharge", name: "Battery Discharge", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_grid", name: "Grid Power (export is negative)", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_to_user", name: "Power from Grid", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_to_grid", name: "Power to Grid", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_eps", name: "Active EPS Power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "s_eps", name: "Apparent EPS Power", deviceClass: "apparent_power", stateClass: "measurement", unit: "VA"},
	{key: "p_inv", name: "Inverter Power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_rec", name: "AC Charge Power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{key: "p_gen", name: "Generator Power", deviceClass: "power", stateClass: "measurement", unit: "W"},

	{key: "e_pv_day", name: "PV Generation (Today)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_pv_all", name: "PV Generation (All time)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_chg_day", name: "Battery Charge (Today)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_chg_all", name: "Battery Charge (All time)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_dischg_day", name: "Battery Discharge (Today)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_dischg_all", name: "Battery Discharge (All time)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_to_grid_day", name: "Energy to Grid (Today)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_to_grid_all", name: "Energy to Grid (All time)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_to_user_day", name: "Energy from Grid (Today)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},
	{key: "e_to_user_all", name: "Energy from Grid (All time)", deviceClass: "energy", stateClass: "total_increasing", unit: "kWh"},

	{key: "t_inner", name: "Inverter Temperature", deviceClass: "temperature", stateClass: "measurement", unit: "°C"},
	{key: "t_rad_1", name: "Radiator 1 Temperature", deviceClass: "temperature", stateClass: "measurement", unit: "°C"},
	{key: "t_rad_2", name: "Radiator 2 Temperature", deviceClass: "temperature", stateClass: "measurement", unit: "°C"},
	{key: "t_bat", name: "Battery Temperature", deviceClass: "temperature", stateClass: "measurement", unit: "°C"},

	{key: "max_chg_curr", name: "Max Charge Current", deviceClass: "current", stateClass: "measurement", unit: "A"},
	{key: "max_dischg_curr", name: "Max Discharge Current", deviceClass: "current", stateClass: "measurement", unit: "A"},
	{key: "bat_current", name: "Battery Current", deviceClass: "current", stateClass: "measurement", unit: "A"},

	{key: "runtime", name: "Total Runtime", category: "diagnostic", stateClass: "total_increasing", unit: "s", icon: "mdi:timer-outline"},
	{key: "cycle_count", name: "Battery Cycle Count", category: "diagnostic", stateClass: "measurement", icon: "mdi:battery-sync"},
}

type switchSpec struct {
	key  string
	name string
	bit  string // field inside hold/21/bits
}

var switchSpecs = []switchSpec{
	{key: "ac_charge", name: "AC Charge", bit: "ac_charge_en"},
	{key: "charge_priority", name: "Charge Priority", bit: "charge_priority_en"},
	{key: "forced_discharge", name: "Forced Discharge", bit: "forced_discharge_en"},
}

type numberSpec struct {
	key      string
	name     string
	register uint16
}

var numberSpecs = []numberSpec{
	{key: "charge_rate_pct", name: "System Charge Rate (%)", register: 64},
	{key: "discharge_rate_pct", name: "System Discharge Rate (%)", register: 65},
	{key: "ac_charge_rate_pct", name: "AC Charge Rate (%)", register: 66},
	{key: "ac_charge_soc_limit_pct", name: "AC Charge Limit %", register: 67},
	{key: "discharge_cutoff_soc_limit_pct", name: "Discharge Cutoff SOC %", register: 105},
}

// All returns every discovery message for one inverter, filtered by the
// configured sensor list ("all" enables the full set). Topics are
// absolute, not namespaced.
func All(inv config.Inverter, mcfg config.Mqtt) ([]mqtt.Message, error) {
	ha := mcfg.HomeAssistant
	wanted := make(map[string]bool)
	for _, s := range ha.SensorList() {
		wanted[s] = true
	}
	enabled := func(key string) bool { return wanted["all"] || wanted[key] }

	datalog := inv.Datalog.String()
	dev := device{
		Manufacturer: "LuxPower",
		Name:         fmt.Sprintf("lxp_%s", datalog),
		Identifiers:  [1]string{fmt.Sprintf("lxp_%s", datalog)},
	}
	avail := availability{Topic: fmt.Sprintf("%s/%s", mcfg.Namespace, mqtt.AvailabilityTopic)}

	var out []mqtt.Message

	add := func(component, key string, payload interface{}) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		out = append(out, mqtt.Message{
			Topic:   fmt.Sprintf("%s/%s/lxp_%s/%s/config", ha.Prefix, component, datalog, key),
			Payload: string(raw),
			Retain:  true,
		})
		return nil
	}

	for _, spec := range sensorSpecs {
		if !enabled(spec.key) {
			continue
		}
		s := sensor{
			UniqueID:          fmt.Sprintf("lxp_%s_%s", datalog, spec.key),
			Name:              spec.name,
			StateTopic:        fmt.Sprintf("%s/%s/inputs/all", mcfg.Namespace, datalog),
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", spec.key),
			EntityCategory:    spec.category,
			StateClass:        spec.stateClass,
			DeviceClass:       spec.deviceClass,
			UnitOfMeasurement: spec.unit,
			Icon:              spec.icon,
			Device:            dev,
			Availability:      avail,
		}
		if err := add("sensor", spec.key, s); err != nil {
			return nil, err
		}
	}

	for _, spec := range switchSpecs {
		if !enabled(spec.key) {
			continue
		}
		s := swtch{
			UniqueID:      fmt.Sprintf("lxp_%s_%s", datalog, spec.key),
			Name:          spec.name,
			StateTopic:    fmt.Sprintf("%s/%s/hold/21/bits", mcfg.Namespace, datalog),
			CommandTopic:  fmt.Sprintf("%s/cmd/%s/set/%s", mcfg.Namespace, datalog, spec.key),
			ValueTemplate: fmt.Sprintf("{%% if value_json.%s %%}1{%% else %%}0{%% endif %%}", spec.bit),
			PayloadOn:     "1",
			PayloadOff:    "0",
			Device:        dev,
			Availability:  avail,
		}
		if err := add("switch", spec.key, s); err != nil {
			return nil, err
		}
	}

	for _, spec := range numberSpecs {
		if !enabled(spec.key) {
			continue
		}
		n := number{
			UniqueID:          fmt.Sprintf("lxp_%s_%s", datalog, spec.key),
			Name:              spec.name,
			StateTopic:        fmt.Sprintf("%s/%s/hold/%d", mcfg.Namespace, datalog, spec.register),
			CommandTopic:      fmt.Sprintf("%s/cmd/%s/set/%s", mcfg.Namespace, datalog, spec.key),
			Min:               0,
			Max:               100,
			Step:              1,
			UnitOfMeasurement: "%",
			Device:            dev,
			Availability:      avail,
		}
		if err := add("number", spec.key, n); err != nil {
			return nil, err
		}
	}

	return out, nil
}
