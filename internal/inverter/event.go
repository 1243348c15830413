package inverter

import (
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// EventKind discriminates messages on the inverter buses.
type EventKind int

const (
	// EventPacket carries a frame; inbound on from_inverter, outbound
	// on to_inverter.
	EventPacket EventKind = iota
	// EventConnected announces a datalog's TCP session coming up.
	EventConnected
	// EventDisconnect announces a datalog's TCP session going away.
	EventDisconnect
	// EventShutdown asks every loop on the bus to exit.
	EventShutdown
)

type Event struct {
	Kind    EventKind
	Datalog lxp.Serial
	Packet  lxp.Packet
}

func PacketEvent(p lxp.Packet) Event {
	return Event{Kind: EventPacket, Packet: p}
}

func ConnectedEvent(datalog lxp.Serial) Event {
	return Event{Kind: EventConnected, Datalog: datalog}
}

func DisconnectEvent(datalog lxp.Serial) Event {
	return Event{Kind: EventDisconnect, Datalog: datalog}
}

func ShutdownEvent() Event {
	return Event{Kind: EventShutdown}
}
