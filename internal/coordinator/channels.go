package coordinator

import (
	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/database"
	"github.com/celsworth/lxp-bridge-sub000/internal/influx"
	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
	"github.com/celsworth/lxp-bridge-sub000/internal/registercache"
)

// Channels is the named broadcast fabric wiring the bridge's tasks
// together.
type Channels struct {
	FromInverter    *bus.Bus[inverter.Event]
	ToInverter      *bus.Bus[inverter.Event]
	FromMqtt        *bus.Bus[mqtt.Event]
	ToMqtt          *bus.Bus[mqtt.Event]
	ToInflux        *bus.Bus[influx.Event]
	ToDatabase      *bus.Bus[database.Event]
	ToRegisterCache *bus.Bus[registercache.Event]
}

func NewChannels() Channels {
	return Channels{
		FromInverter:    bus.New[inverter.Event](bus.DefaultCapacity),
		ToInverter:      bus.New[inverter.Event](bus.DefaultCapacity),
		FromMqtt:        bus.New[mqtt.Event](bus.DefaultCapacity),
		ToMqtt:          bus.New[mqtt.Event](bus.DefaultCapacity),
		ToInflux:        bus.New[influx.Event](bus.DefaultCapacity),
		ToDatabase:      bus.New[database.Event](bus.DefaultCapacity),
		ToRegisterCache: bus.New[registercache.Event](bus.DefaultCapacity),
	}
}
