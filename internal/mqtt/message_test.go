package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCmdTopic(t *testing.T) {
	msg := Message{Topic: "cmd/AB12345678/set/ac_charge"}

	target, parts, err := msg.SplitCmdTopic()
	require.NoError(t, err)
	assert.Equal(t, "AB12345678", target)
	assert.Equal(t, []string{"set", "ac_charge"}, parts)
}

func TestSplitCmdTopicAll(t *testing.T) {
	msg := Message{Topic: "cmd/all/read/hold/12"}

	target, parts, err := msg.SplitCmdTopic()
	require.NoError(t, err)
	assert.Equal(t, "all", target)
	assert.Equal(t, []string{"read", "hold", "12"}, parts)
}

func TestSplitCmdTopicMalformed(t *testing.T) {
	for _, topic := range []string{"cmd", "cmd/x", "nonsense/all/read"} {
		_, _, err := Message{Topic: topic}.SplitCmdTopic()
		assert.Error(t, err, topic)
	}
}

func TestPayloadBool(t *testing.T) {
	trues := []string{"1", "t", "true", "on", "y", "yes", "TRUE", "On", "YES"}
	for _, payload := range trues {
		assert.True(t, Message{Payload: payload}.PayloadBool(), payload)
	}

	falses := []string{"", "0", "off", "no", "false", "2", "enabled"}
	for _, payload := range falses {
		assert.False(t, Message{Payload: payload}.PayloadBool(), payload)
	}
}

func TestPayloadInt(t *testing.T) {
	v, err := Message{Payload: "1558"}.PayloadInt()
	require.NoError(t, err)
	assert.Equal(t, uint16(1558), v)

	_, err = Message{Payload: "x"}.PayloadInt()
	assert.Error(t, err)

	_, err = Message{Payload: "65536"}.PayloadInt()
	assert.Error(t, err)
}

func TestPayloadIntOr1(t *testing.T) {
	assert.Equal(t, uint16(40), Message{Payload: "40"}.PayloadIntOr1())
	assert.Equal(t, uint16(1), Message{Payload: ""}.PayloadIntOr1())
	assert.Equal(t, uint16(1), Message{Payload: "junk"}.PayloadIntOr1())
}
