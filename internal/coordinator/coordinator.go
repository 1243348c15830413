// Package coordinator dispatches MQTT commands to inverters and fans
// received telemetry out to the configured sinks.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
	"github.com/celsworth/lxp-bridge-sub000/internal/config"
	"github.com/celsworth/lxp-bridge-sub000/internal/database"
	"github.com/celsworth/lxp-bridge-sub000/internal/influx"
	"github.com/celsworth/lxp-bridge-sub000/internal/inverter"
	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
	"github.com/celsworth/lxp-bridge-sub000/internal/mqtt"
	"github.com/celsworth/lxp-bridge-sub000/internal/registercache"
)

type Coordinator struct {
	cfg      *config.Config
	channels Channels

	Stats *PacketStats

	// ReplyTimeout bounds wait-for-reply; 0 makes commands fail
	// immediately, which tests rely on.
	ReplyTimeout time.Duration

	assembler *lxp.InputAssembler
	locks     *registerLocks
	now       func() time.Time
}

func New(cfg *config.Config, channels Channels) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		channels:     channels,
		Stats:        NewPacketStats(),
		ReplyTimeout: inverter.DefaultReplyTimeout,
		assembler:    lxp.NewInputAssembler(),
		locks:        newRegisterLocks(),
		now:          time.Now,
	}
}

// Start runs the receiver loops until shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.cfg.Mqtt.IsEnabled() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.inverterReceiver(gctx) })
		g.Go(func() error { return c.mqttReceiver(gctx) })
		return g.Wait()
	}

	return c.inverterReceiver(ctx)
}

// Stop broadcasts shutdown to both receiver loops.
func (c *Coordinator) Stop() {
	c.channels.FromInverter.Send(inverter.ShutdownEvent())
	if c.cfg.Mqtt.IsEnabled() {
		c.channels.FromMqtt.Send(mqtt.ShutdownEvent())
	}
}

// mqttReceiver turns command topics into protocol operations.
func (c *Coordinator) mqttReceiver(ctx context.Context) error {
	sub := c.channels.FromMqtt.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("coordinator lagged behind from_mqtt bus")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case mqtt.EventShutdown:
			return nil
		case mqtt.EventMessage:
			c.processMessage(ctx, event.Message)
		}
	}
}

func (c *Coordinator) processMessage(ctx context.Context, message mqtt.Message) {
	target, parts, err := message.SplitCmdTopic()
	if err != nil {
		slog.Error("bad command topic", "err", err)
		return
	}

	inverters, err := c.invertersForTarget(target)
	if err != nil {
		slog.Error("unknown command target", "err", err)
		return
	}

	for _, inv := range inverters {
		command, err := ParseCommand(inv, parts, message)
		if err != nil {
			slog.Error("unparseable command", "topic", message.Topic, "err", err)
			continue
		}

		slog.Info("parsed command", "topic", message.Topic, "datalog", inv.Datalog.String())
		if err := c.ProcessCommand(ctx, command); err != nil {
			slog.Error("command failed", "topic", message.Topic, "err", err)
			c.publish(command.ResultTopic(), "FAIL", false)
		}
	}
}

func (c *Coordinator) invertersForTarget(target string) ([]config.Inverter, error) {
	if target == "all" {
		return c.cfg.EnabledInverters(), nil
	}

	datalog, err := lxp.ParseSerial(target)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", target, err)
	}
	inv, ok := c.cfg.EnabledInverterWithDatalog(datalog)
	if !ok {
		return nil, fmt.Errorf("no enabled inverter with datalog %s", target)
	}
	return []config.Inverter{inv}, nil
}

// ProcessCommand executes one parsed command against its inverter.
func (c *Coordinator) ProcessCommand(ctx context.Context, cmd Command) error {
	inv := cmd.Inverter

	switch cmd.Kind {
	case CmdReadInputs:
		_, err := c.ReadInputs(ctx, inv, cmd.Bank*lxp.BankSize-lxp.BankSize, lxp.BankSize)
		return err
	case CmdReadInput:
		_, err := c.ReadInputs(ctx, inv, cmd.Register, cmd.Count)
		return err
	case CmdReadHold:
		_, err := c.ReadHold(ctx, inv, cmd.Register, cmd.Count)
		return err
	case CmdReadParam:
		_, err := c.ReadParam(ctx, inv, cmd.Register)
		return err
	case CmdWriteParam:
		_, err := c.WriteParam(ctx, inv, cmd.Register, cmd.Value)
		return err
	case CmdSetHold:
		_, err := c.SetHold(ctx, inv, cmd.Register, cmd.Value)
		return err
	case CmdAcCharge:
		_, err := c.UpdateHold(ctx, inv, lxp.RegModeBits, lxp.BitAcChargeEnable, cmd.Enable)
		return err
	case CmdChargePriority:
		_, err := c.UpdateHold(ctx, inv, lxp.RegModeBits, lxp.BitChargePriorityEnable, cmd.Enable)
		return err
	case CmdForcedDischarge:
		_, err := c.UpdateHold(ctx, inv, lxp.RegModeBits, lxp.BitForcedDischargeEnable, cmd.Enable)
		return err
	case CmdChargeRate:
		_, err := c.SetHold(ctx, inv, lxp.RegChargePowerPercentCmd, cmd.Value)
		return err
	case CmdDischargeRate:
		_, err := c.SetHold(ctx, inv, lxp.RegDischgPowerPercentCmd, cmd.Value)
		return err
	case CmdAcChargeRate:
		_, err := c.SetHold(ctx, inv, lxp.RegAcChargePowerCmd, cmd.Value)
		return err
	case CmdAcChargeSocLimit:
		_, err := c.SetHold(ctx, inv, lxp.RegAcChargeSocLimit, cmd.Value)
		return err
	case CmdDischargeCutoffSocLimit:
		_, err := c.SetHold(ctx, inv, lxp.RegDischgCutOffSocEod, cmd.Value)
		return err
	case CmdReadTimeRegister:
		return c.ReadTimeRegister(ctx, inv, cmd.Action, cmd.Slot)
	case CmdSetTimeRegister:
		return c.SetTimeRegister(ctx, inv, cmd.Action, cmd.Slot, cmd.TimeValues)
	}

	return fmt.Errorf("unhandled command kind %d", cmd.Kind)
}

// inverterReceiver reads from_inverter events and fans telemetry out to
// the sinks.
func (c *Coordinator) inverterReceiver(ctx context.Context) error {
	sub := c.channels.FromInverter.Subscribe()
	defer sub.Close()

	for {
		event, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrLagged) {
				slog.Warn("coordinator lagged behind from_inverter bus")
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch event.Kind {
		case inverter.EventPacket:
			if err := c.processInverterPacket(event.Packet); err != nil {
				slog.Warn("failed to process packet", "err", err)
			}
		case inverter.EventConnected:
			if err := c.inverterConnected(ctx, event.Datalog); err != nil {
				slog.Error("publish on connect failed", "datalog", event.Datalog.String(), "err", err)
			}
		case inverter.EventDisconnect:
			slog.Info("inverter disconnected", "datalog", event.Datalog.String())
			c.Stats.Disconnection(event.Datalog)
			c.Stats.PrintSummary()
		case inverter.EventShutdown:
			slog.Info("received shutdown signal")
			c.Stats.PrintSummary()
			return nil
		}
	}
}

func (c *Coordinator) processInverterPacket(packet lxp.Packet) error {
	slog.Debug("rx", "packet", fmt.Sprintf("%+v", packet))
	c.Stats.PacketReceived(packet)

	switch p := packet.(type) {
	case lxp.TranslatedData:
		if inv, ok := c.cfg.EnabledInverterWithDatalog(p.Datalog); ok && inv.Serial != p.Inverter {
			slog.Warn("inverter serial mismatch - please check config",
				"config", inv.Serial.String(),
				"packet", p.Inverter.String(),
				"datalog", p.Datalog.String())
			c.Stats.SerialMismatch()
		}

		switch p.DeviceFunction {
		case lxp.ReadInput:
			return c.processReadInput(p)
		case lxp.ReadHold, lxp.WriteSingle:
			c.processHold(p)
		}
	case lxp.ReadParam:
		c.processReadParam(p)
	}

	return nil
}

func (c *Coordinator) processReadInput(td lxp.TranslatedData) error {
	if c.mqttEnabled() && c.cfg.Mqtt.PublishIndividualInput {
		for _, pair := range td.Pairs() {
			c.publish(fmt.Sprintf("%s/input/%d", td.Datalog, pair.Register),
				fmt.Sprintf("%d", pair.Value), false)
		}

		parsed, err := lxp.NewRegisterParser(td.RegisterMap()).ParseInputs()
		if err != nil {
			slog.Warn("cannot parse input registers", "err", err)
		} else {
			for name, value := range parsed {
				c.publish(fmt.Sprintf("%s/input/%s/parsed", td.Datalog, name),
					value.String(), false)
			}
		}
	}

	record, err := c.assembler.Feed(td)
	if err != nil {
		return err
	}
	if record == nil {
		slog.Debug("incomplete input set, waiting for more banks", "datalog", td.Datalog.String())
		return nil
	}

	slog.Info("assembled complete input set", "datalog", td.Datalog.String())
	return c.saveTelemetry(record)
}

func (c *Coordinator) saveTelemetry(record *lxp.TelemetryRecord) error {
	if c.mqttEnabled() {
		payload, err := json.Marshal(record)
		if err != nil {
			c.Stats.MqttError()
			return fmt.Errorf("marshal telemetry: %w", err)
		}
		c.publish(fmt.Sprintf("%s/inputs/all", record.Datalog), string(payload), false)
	}

	if c.cfg.Influx.IsEnabled() {
		fields, err := telemetryFields(record)
		if err != nil {
			c.Stats.InfluxError()
			slog.Error("failed to build influx fields", "err", err)
		} else if c.channels.ToInflux.Send(influx.InputDataEvent(fields)) == 0 {
			c.Stats.InfluxError()
		} else {
			c.Stats.InfluxWrite()
		}
	}

	if len(c.cfg.EnabledDatabases()) > 0 {
		if c.channels.ToDatabase.Send(database.TelemetryEvent(record)) == 0 {
			c.Stats.DatabaseError()
		} else {
			c.Stats.DatabaseWrite()
		}
	}

	return nil
}

func (c *Coordinator) processHold(td lxp.TranslatedData) {
	for _, pair := range td.Pairs() {
		if c.channels.ToRegisterCache.Send(registercache.RegisterDataEvent(pair.Register, pair.Value)) == 0 {
			c.Stats.RegisterCacheError()
		} else {
			c.Stats.RegisterCacheWrite()
		}
	}

	if c.mqttEnabled() {
		for _, pair := range td.Pairs() {
			c.publish(fmt.Sprintf("%s/hold/%d", td.Datalog, pair.Register),
				fmt.Sprintf("%d", pair.Value), true)
		}

		c.publish(fmt.Sprintf("result/%s/read/hold/%d", td.Datalog, td.Register), "OK", false)

		// interpretive topics derived from known holding registers
		for name, value := range lxp.NewRegisterParser(td.RegisterMap()).ParseHolds() {
			c.publish(fmt.Sprintf("%s/%s", td.Datalog, name), value.String(), true)
		}
	}

	if c.cfg.Influx.IsEnabled() {
		fields := map[string]interface{}{
			"time":    c.now().Unix(),
			"datalog": td.Datalog.String(),
			fmt.Sprintf("hold_%d", td.Register): int64(td.Value()),
		}
		if c.channels.ToInflux.Send(influx.InputDataEvent(fields)) == 0 {
			c.Stats.InfluxError()
		} else {
			c.Stats.InfluxWrite()
		}
	}
}

func (c *Coordinator) processReadParam(rp lxp.ReadParam) {
	if !c.mqttEnabled() {
		return
	}

	for _, pair := range rp.Pairs() {
		c.publish(fmt.Sprintf("%s/param/%d", rp.Datalog, pair.Register),
			fmt.Sprintf("%d", pair.Value), false)
	}
	c.publish(fmt.Sprintf("result/%s/read/param/%d", rp.Datalog, rp.Register), "OK", false)
}

// inverterConnected optionally primes the holding register topics when a
// datalog comes up.
func (c *Coordinator) inverterConnected(ctx context.Context, datalog lxp.Serial) error {
	inv, ok := c.cfg.EnabledInverterWithDatalog(datalog)
	if !ok {
		slog.Warn("unknown datalog connected, will still process its data", "datalog", datalog.String())
		return nil
	}

	if !inv.PublishHoldingsOnConnect {
		return nil
	}

	slog.Info("reading holding registers", "datalog", datalog.String())

	// holding registers are read in blocks of 40; six pages are known
	for bank := uint16(0); bank <= 200; bank += lxp.BankSize {
		if _, err := c.ReadHold(ctx, inv, bank, lxp.BankSize); err != nil {
			return err
		}
	}

	for slot := uint16(1); slot <= 3; slot++ {
		for _, action := range []TimeAction{ActionAcCharge, ActionChargePriority, ActionForcedDischarge, ActionAcFirst} {
			if err := c.ReadTimeRegister(ctx, inv, action, slot); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Coordinator) mqttEnabled() bool {
	return c.cfg.Mqtt.IsEnabled()
}

// publish queues one MQTT message, counting failures against stats.
func (c *Coordinator) publish(topic, payload string, retain bool) {
	if !c.mqttEnabled() {
		return
	}

	sent := c.channels.ToMqtt.Send(mqtt.MessageEvent(mqtt.Message{
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
	}))
	if sent == 0 {
		c.Stats.MqttError()
	} else {
		c.Stats.MqttSent()
	}
}

// telemetryFields flattens a record into the sink's field map.
func telemetryFields(record *lxp.TelemetryRecord) (map[string]interface{}, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	// keep these typed; the sink pulls them out as tag and timestamp
	fields["time"] = record.Time
	fields["datalog"] = record.Datalog.String()

	return fields, nil
}
