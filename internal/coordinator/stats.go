package coordinator

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

// PacketStats is process-wide counters, guarded by a mutex with
// increment-only critical sections. Printed on every disconnect and on
// shutdown.
type PacketStats struct {
	mu sync.Mutex

	packetsReceived uint64
	packetsSent     uint64

	heartbeatsReceived     uint64
	translatedDataReceived uint64
	readParamReceived      uint64
	writeParamReceived     uint64

	heartbeatsSent     uint64
	translatedDataSent uint64
	readParamSent      uint64
	writeParamSent     uint64

	mqttMessagesSent    uint64
	mqttErrors          uint64
	influxWrites        uint64
	influxErrors        uint64
	databaseWrites      uint64
	databaseErrors      uint64
	registerCacheWrites uint64
	registerCacheErrors uint64

	serialMismatches       uint64
	inverterDisconnections map[lxp.Serial]uint64
	lastMessages           map[lxp.Serial]string
}

func NewPacketStats() *PacketStats {
	return &PacketStats{
		inverterDisconnections: make(map[lxp.Serial]uint64),
		lastMessages:           make(map[lxp.Serial]string),
	}
}

func (s *PacketStats) PacketReceived(p lxp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetsReceived++
	switch p.TcpFunction() {
	case lxp.FuncHeartbeat:
		s.heartbeatsReceived++
	case lxp.FuncTranslatedData:
		s.translatedDataReceived++
		s.lastMessages[p.PacketDatalog()] = fmt.Sprintf("%+v", p)
	case lxp.FuncReadParam:
		s.readParamReceived++
	case lxp.FuncWriteParam:
		s.writeParamReceived++
	}
}

func (s *PacketStats) PacketSent(p lxp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetsSent++
	switch p.TcpFunction() {
	case lxp.FuncHeartbeat:
		s.heartbeatsSent++
	case lxp.FuncTranslatedData:
		s.translatedDataSent++
	case lxp.FuncReadParam:
		s.readParamSent++
	case lxp.FuncWriteParam:
		s.writeParamSent++
	}
}

func (s *PacketStats) SerialMismatch() {
	s.mu.Lock()
	s.serialMismatches++
	s.mu.Unlock()
}

func (s *PacketStats) Disconnection(datalog lxp.Serial) {
	s.mu.Lock()
	s.inverterDisconnections[datalog]++
	s.mu.Unlock()
}

func (s *PacketStats) MqttSent()            { s.count(&s.mqttMessagesSent) }
func (s *PacketStats) MqttError()           { s.count(&s.mqttErrors) }
func (s *PacketStats) InfluxWrite()         { s.count(&s.influxWrites) }
func (s *PacketStats) InfluxError()         { s.count(&s.influxErrors) }
func (s *PacketStats) DatabaseWrite()       { s.count(&s.databaseWrites) }
func (s *PacketStats) DatabaseError()       { s.count(&s.databaseErrors) }
func (s *PacketStats) RegisterCacheWrite()  { s.count(&s.registerCacheWrites) }
func (s *PacketStats) RegisterCacheError()  { s.count(&s.registerCacheErrors) }

func (s *PacketStats) count(field *uint64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

func (s *PacketStats) PrintSummary() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Info("packet statistics",
		"packets_received", s.packetsReceived,
		"packets_sent", s.packetsSent)
	slog.Info("received packet types",
		"heartbeat", s.heartbeatsReceived,
		"translated_data", s.translatedDataReceived,
		"read_param", s.readParamReceived,
		"write_param", s.writeParamReceived)
	slog.Info("sent packet types",
		"heartbeat", s.heartbeatsSent,
		"translated_data", s.translatedDataSent,
		"read_param", s.readParamSent,
		"write_param", s.writeParamSent)
	slog.Info("sink statistics",
		"mqtt_sent", s.mqttMessagesSent,
		"mqtt_errors", s.mqttErrors,
		"influx_writes", s.influxWrites,
		"influx_errors", s.influxErrors,
		"database_writes", s.databaseWrites,
		"database_errors", s.databaseErrors,
		"register_cache_writes", s.registerCacheWrites,
		"register_cache_errors", s.registerCacheErrors)
	slog.Info("connection statistics", "serial_mismatches", s.serialMismatches)
	for serial, count := range s.inverterDisconnections {
		attrs := []any{"datalog", serial.String(), "disconnections", count}
		if last, ok := s.lastMessages[serial]; ok {
			attrs = append(attrs, "last_message", last)
		}
		slog.Info("inverter disconnections", attrs...)
	}
}
