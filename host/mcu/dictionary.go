package mcu

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dictionary is the parsed data dictionary returned by identify
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandIDs  map[string]uint16
	responseIDs map[string]uint16
}

// ParseDictionary decodes the JSON dictionary and indexes its messages by name
func ParseDictionary(data []byte) (*Dictionary, error) {
	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	d.commandIDs = indexByName(d.Commands)
	d.responseIDs = indexByName(d.Responses)
	return d, nil
}

// indexByName maps "name arg=%u ..." keys to name -> ID
func indexByName(m map[string]int) map[string]uint16 {
	out := make(map[string]uint16, len(m))
	for format, id := range m {
		name, _, _ := strings.Cut(format, " ")
		out[name] = uint16(id)
	}
	return out
}

// CommandID returns the ID of a command by name
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	id, ok := d.commandIDs[name]
	return id, ok
}

// ResponseID returns the ID of a response by name
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	id, ok := d.responseIDs[name]
	return id, ok
}

// Uint returns a numeric constant
func (d *Dictionary) Uint(name string) (uint32, error) {
	s, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("constant %s=%q: %w", name, s, err)
	}
	return uint32(v), nil
}

// PulsePin returns the name of the board's pulse input pin
func (d *Dictionary) PulsePin() (string, bool) {
	for name := range d.Enumerations["pin"] {
		return name, true
	}
	return "", false
}
