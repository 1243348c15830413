// Package config loads and validates the bridge's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/celsworth/lxp-bridge-sub000/internal/lxp"
)

type Config struct {
	Inverters []Inverter `yaml:"inverters"`
	Mqtt      Mqtt       `yaml:"mqtt"`
	Influx    Influx     `yaml:"influx"`
	Databases []Database `yaml:"databases"`
	Scheduler *Scheduler `yaml:"scheduler"`
}

type Inverter struct {
	Enabled *bool `yaml:"enabled"`

	Host    string     `yaml:"host"`
	Port    uint16     `yaml:"port"`
	Serial  lxp.Serial `yaml:"serial"`
	Datalog lxp.Serial `yaml:"datalog"`

	// heartbeats echoes datalog heartbeat frames back, keeping NAT
	// sessions alive
	Heartbeats bool `yaml:"heartbeats"`

	// publish_holdings_on_connect reads all holding register banks and
	// time ranges whenever the connection comes up
	PublishHoldingsOnConnect bool `yaml:"publish_holdings_on_connect"`

	// read timeout in seconds; 0 disables the read deadline
	ReadTimeout uint64 `yaml:"read_timeout"`
}

func (i Inverter) IsEnabled() bool {
	return i.Enabled == nil || *i.Enabled
}

type HomeAssistant struct {
	Enabled *bool  `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
	Sensors string `yaml:"sensors"`
}

func (h HomeAssistant) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// SensorList splits the comma-separated sensors value. The default
// special case "all" enables the whole set.
func (h HomeAssistant) SensorList() []string {
	parts := strings.Split(h.Sensors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Mqtt struct {
	Enabled *bool `yaml:"enabled"`

	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Namespace string `yaml:"namespace"`

	PublishIndividualInput bool `yaml:"publish_individual_input"`

	HomeAssistant HomeAssistant `yaml:"homeassistant"`
}

func (m Mqtt) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type Influx struct {
	Enabled *bool `yaml:"enabled"`

	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Database string `yaml:"database"`
}

func (i Influx) IsEnabled() bool {
	return (i.Enabled == nil || *i.Enabled) && i.URL != ""
}

type Database struct {
	Enabled *bool `yaml:"enabled"`

	URL string `yaml:"url"`
}

func (d Database) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

type Scheduler struct {
	Enabled *bool `yaml:"enabled"`

	Timesync Crontab `yaml:"timesync"`
}

func (s *Scheduler) IsEnabled() bool {
	return s != nil && (s.Enabled == nil || *s.Enabled)
}

type Crontab struct {
	Enabled *bool  `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

func (c Crontab) IsEnabled() bool {
	return (c.Enabled == nil || *c.Enabled) && c.Cron != ""
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	if err := cfg.normalise(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalise() error {
	if len(c.Inverters) == 0 {
		return fmt.Errorf("no inverters configured")
	}

	for i, inv := range c.Inverters {
		if inv.Host == "" || inv.Port == 0 {
			return fmt.Errorf("inverter %d: host and port are required", i)
		}
		if inv.Datalog.IsZero() || inv.Serial.IsZero() {
			return fmt.Errorf("inverter %d: datalog and serial are required", i)
		}
	}

	if c.Mqtt.Port == 0 {
		c.Mqtt.Port = 1883
	}
	if c.Mqtt.Namespace == "" {
		c.Mqtt.Namespace = "lxp"
	}
	if c.Mqtt.HomeAssistant.Prefix == "" {
		c.Mqtt.HomeAssistant.Prefix = "homeassistant"
	}
	if c.Mqtt.HomeAssistant.Sensors == "" {
		c.Mqtt.HomeAssistant.Sensors = "all"
	}

	return nil
}

// EnabledInverters returns the inverters the bridge should connect to.
func (c *Config) EnabledInverters() []Inverter {
	out := make([]Inverter, 0, len(c.Inverters))
	for _, inv := range c.Inverters {
		if inv.IsEnabled() {
			out = append(out, inv)
		}
	}
	return out
}

// EnabledInverterWithDatalog finds the enabled inverter owning a datalog
// serial.
func (c *Config) EnabledInverterWithDatalog(datalog lxp.Serial) (Inverter, bool) {
	for _, inv := range c.EnabledInverters() {
		if inv.Datalog == datalog {
			return inv, true
		}
	}
	return Inverter{}, false
}

// EnabledDatabases returns the configured database sinks that are
// switched on.
func (c *Config) EnabledDatabases() []Database {
	out := make([]Database, 0, len(c.Databases))
	for _, d := range c.Databases {
		if d.IsEnabled() {
			out = append(out, d)
		}
	}
	return out
}
