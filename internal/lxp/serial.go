package lxp

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Serial is the fixed 10-byte ASCII identifier used for both datalog
// (gateway) and inverter serial numbers. Comparison is byte-wise.
type Serial [10]byte

func NewSerial(b []byte) (Serial, error) {
	var s Serial
	if len(b) != len(s) {
		return s, fmt.Errorf("serial must be exactly %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

func ParseSerial(str string) (Serial, error) {
	return NewSerial([]byte(str))
}

func (s Serial) String() string {
	return string(s[:])
}

func (s Serial) Bytes() []byte {
	return s[:]
}

func (s Serial) IsZero() bool {
	return s == Serial{}
}

func (s Serial) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Serial) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseSerial(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML lets Serial be used directly in config structs.
func (s *Serial) UnmarshalYAML(node *yaml.Node) error {
	var str string
	if err := node.Decode(&str); err != nil {
		return err
	}
	parsed, err := ParseSerial(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
