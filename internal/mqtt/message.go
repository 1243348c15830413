package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Message is one MQTT publish in either direction, topic relative to the
// configured namespace.
type Message struct {
	Topic   string
	Payload string
	Retain  bool
}

// EventKind discriminates messages on the mqtt buses.
type EventKind int

const (
	EventMessage EventKind = iota
	EventShutdown
)

type Event struct {
	Kind    EventKind
	Message Message
}

func MessageEvent(m Message) Event {
	return Event{Kind: EventMessage, Message: m}
}

func ShutdownEvent() Event {
	return Event{Kind: EventShutdown}
}

// SplitCmdTopic splits a command topic into its target datalog (or the
// literal "all") and the verb parts.
//
// cmd/AB12345678/set/ac_charge => ("AB12345678", ["set", "ac_charge"])
func (m Message) SplitCmdTopic() (target string, parts []string, err error) {
	split := strings.Split(m.Topic, "/")

	// shouldn't happen, our subscription is namespace/cmd/<target>/#
	if len(split) < 3 || split[0] != "cmd" {
		return "", nil, fmt.Errorf("ignoring badly formed MQTT topic: %s", m.Topic)
	}

	return split[1], split[2:], nil
}

// PayloadInt parses the payload as a decimal u16.
func (m Message) PayloadInt() (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(m.Payload), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("payload_int: %w", err)
	}
	return uint16(v), nil
}

// PayloadIntOr1 is PayloadInt defaulting to 1, used for read counts.
func (m Message) PayloadIntOr1() uint16 {
	if v, err := m.PayloadInt(); err == nil {
		return v
	}
	return 1
}

// PayloadBool is true for 1/t/true/on/y/yes (case-insensitive),
// false for anything else.
func (m Message) PayloadBool() bool {
	switch strings.ToLower(strings.TrimSpace(m.Payload)) {
	case "1", "t", "true", "on", "y", "yes":
		return true
	}
	return false
}
