package homeassistant

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
)

func testInverter(t *testing.T) config.Inverter {
	t.Helper()
	datalog, err := lxp.ParseSerial("2222222222")
	require.NoError(t, err)
	inverterSerial, err := lxp.ParseSerial("5555555555")
	require.NoError(t, err)
	return config.Inverter{Datalog: datalog, Serial: inverterSerial}
}

func testMqttConfig(sensors string) config.Mqtt {
	return config.Mqtt{
		Namespace: "lxp",
		HomeAssistant: config.HomeAssistant{
			Prefix:  "homeassistant",
			Sensors: sensors,
		},
	}
}

func TestAllProducesEveryEntityKind(t *testing.T) {
	msgs, err := All(testInverter(t), testMqttConfig("all"))
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	var sensors, switches, numbers int
	for _, msg := range msgs {
		assert.True(t, msg.Retain, "discovery configs are retained")
		assert.True(t, strings.HasPrefix(msg.Topic, "homeassistant/"), msg.Topic)
		assert.True(t, strings.HasSuffix(msg.Topic, "/config"), msg.Topic)

		switch {
		case strings.HasPrefix(msg.Topic, "homeassistant/sensor/"):
			sensors++
		case strings.HasPrefix(msg.Topic, "homeassistant/switch/"):
			switches++
		case strings.HasPrefix(msg.Topic, "homeassistant/number/"):
			numbers++
		}
	}

	assert.Equal(t, len(sensorSpecs), sensors)
	assert.Equal(t, len(switchSpecs), switches)
	assert.Equal(t, len(numberSpecs), numbers)
}

func TestSensorPayloadShape(t *testing.T) {
	msgs, err := All(testInverter(t), testMqttConfig("soc"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, "homeassistant/sensor/lxp_2222222222/soc/config", msgs[0].Topic)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &payload))

	assert.Equal(t, "lxp_2222222222_soc", payload["unique_id"])
	assert.Equal(t, "lxp/2222222222/inputs/all", payload["state_topic"])
	assert.Equal(t, "{{ value_json.soc }}", payload["value_template"])
	assert.Equal(t, "battery", payload["device_class"])
	assert.Equal(t, "%", payload["unit_of_measurement"])

	device := payload["device"].(map[string]interface{})
	assert.Equal(t, "LuxPower", device["manufacturer"])

	availability := payload["availability"].(map[string]interface{})
	assert.Equal(t, "lxp/"+mqtt.AvailabilityTopic, availability["topic"])
}

func TestSwitchPayloadShape(t *testing.T) {
	msgs, err := All(testInverter(t), testMqttConfig("ac_charge"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &payload))

	assert.Equal(t, "lxp/cmd/2222222222/set/ac_charge", payload["command_topic"])
	assert.Equal(t, "lxp/2222222222/hold/21/bits", payload["state_topic"])
	assert.Contains(t, payload["value_template"], "ac_charge_en")
}

func TestNumberPayloadShape(t *testing.T) {
	msgs, err := All(testInverter(t), testMqttConfig("charge_rate_pct"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Payload), &payload))

	assert.Equal(t, "lxp/2222222222/hold/64", payload["state_topic"])
	assert.Equal(t, "lxp/cmd/2222222222/set/charge_rate_pct", payload["command_topic"])
	assert.Equal(t, float64(0), payload["min"])
	assert.Equal(t, float64(100), payload["max"])
}

func TestSensorListFilters(t *testing.T) {
	msgs, err := All(testInverter(t), testMqttConfig("soc, v_bat"))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
