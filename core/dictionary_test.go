package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func newTestDictionary() *Dictionary {
	reg := NewCommandRegistry()
	reg.Register("identify_response", "offset=%u data=%*s", nil)
	reg.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })
	reg.Register("get_count", "", func(data *[]byte) error { return nil })
	reg.Register("count", "high=%u low=%u", nil)
	return NewDictionary(reg)
}

func TestDictionaryIsKlipperJSON(t *testing.T) {
	dict := newTestDictionary()
	dict.AddConstant("CLOCK_FREQ", uint32(2000000))
	dict.AddConstant("MCU", "atmega328p")
	dict.AddConstant("OFFSET", int32(-5))
	dict.AddEnumeration("pin", []string{"PD2", "", "PD4"})
	dict.BuildDictionary()

	var parsed struct {
		Version      string                    `json:"version"`
		Config       map[string]string         `json:"config"`
		Commands     map[string]int            `json:"commands"`
		Responses    map[string]int            `json:"responses"`
		Enumerations map[string]map[string]int `json:"enumerations"`
	}
	if err := json.Unmarshal(dict.Generate(), &parsed); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v\n%s", err, dict.Generate())
	}

	if parsed.Version != "t2count-0.1.0" {
		t.Errorf("Unexpected version %q", parsed.Version)
	}
	if parsed.Config["CLOCK_FREQ"] != "2000000" || parsed.Config["MCU"] != "atmega328p" || parsed.Config["OFFSET"] != "-5" {
		t.Errorf("Unexpected config %v", parsed.Config)
	}
	if parsed.Commands["identify offset=%u count=%c"] != 1 || parsed.Commands["get_count"] != 2 {
		t.Errorf("Unexpected commands %v", parsed.Commands)
	}
	if parsed.Responses["identify_response offset=%u data=%*s"] != 0 || parsed.Responses["count high=%u low=%u"] != 3 {
		t.Errorf("Unexpected responses %v", parsed.Responses)
	}
	pins := parsed.Enumerations["pin"]
	if len(pins) != 2 || pins["PD2"] != 0 || pins["PD4"] != 2 {
		t.Errorf("Unexpected pin enumeration %v", pins)
	}
}

func TestDictionaryCacheInvalidation(t *testing.T) {
	dict := newTestDictionary()
	dict.BuildDictionary()
	before := string(dict.Generate())

	dict.AddConstant("WRAP_TICKS", uint32(256))
	after := string(dict.Generate())

	if strings.Contains(before, "WRAP_TICKS") {
		t.Error("Constant present before it was added")
	}
	if !strings.Contains(after, `"WRAP_TICKS":"256"`) {
		t.Errorf("Constant missing after AddConstant: %s", after)
	}
}

func TestDictionaryChunks(t *testing.T) {
	dict := newTestDictionary()
	dict.BuildDictionary()
	full := dict.Generate()

	var rebuilt []byte
	for offset := uint32(0); ; offset += 40 {
		chunk := dict.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		if len(chunk) > 40 {
			t.Fatalf("Chunk at %d is %d bytes", offset, len(chunk))
		}
		rebuilt = append(rebuilt, chunk...)
	}
	if string(rebuilt) != string(full) {
		t.Errorf("Chunks do not reassemble the dictionary")
	}

	if chunk := dict.GetChunk(uint32(len(full))+10, 40); len(chunk) != 0 {
		t.Errorf("Expected empty chunk past the end, got %d bytes", len(chunk))
	}

	// chunks are copies
	chunk := dict.GetChunk(0, 4)
	chunk[0] = 'X'
	if dict.Generate()[0] != '{' {
		t.Error("GetChunk returned a slice of the cache")
	}
}
