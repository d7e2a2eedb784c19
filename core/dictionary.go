package core

import (
	"sync"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or an integer type
}

// Enumeration represents an enumeration of values (like pin names)
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary manages the data dictionary sent to the host through identify
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a new dictionary
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "t2count-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
}

// AddEnumeration adds an enumeration to the dictionary
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Keep our own copy; the caller may reuse its slice
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)

	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cachedDict = nil
}

// SetBuildVersions sets the build versions string
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
}

// BuildDictionary builds and caches the dictionary. Call it after all commands
// are registered so identify chunks come from one consistent snapshot.
func (d *Dictionary) BuildDictionary() {
	// Fetch from the registry before taking our own lock to keep lock order flat
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedDict = d.buildJSONLocked(commands, responses)
	DebugPrintln("[Dict] built " + itoa(len(d.cachedDict)) + " bytes")
}

// Generate returns the dictionary in Klipper's JSON data dictionary format
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(commands, responses)
}

// buildJSONLocked builds the JSON by hand to stay clear of encoding/json on
// small targets (caller must hold the lock)
func (d *Dictionary) buildJSONLocked(commands, responses map[string]int) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, `{"version":"`...)
	result = append(result, d.version...)
	result = append(result, `","build_versions":"`...)
	result = append(result, d.buildVersions...)
	result = append(result, `","config":{`...)

	constNames := make([]string, 0, len(d.constants))
	for name := range d.constants {
		constNames = append(constNames, name)
	}
	sortStrings(constNames)
	for i, name := range constNames {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, name...)
		result = append(result, `":"`...)
		result = append(result, valueToString(d.constants[name].Value)...)
		result = append(result, '"')
	}

	result = append(result, `},"commands":`...)
	result = appendIDMap(result, commands)
	result = append(result, `,"responses":`...)
	result = appendIDMap(result, responses)

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)

		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sortStrings(enumNames)

		for i, name := range enumNames {
			if i > 0 {
				result = append(result, ',')
			}
			result = append(result, '"')
			result = append(result, name...)
			result = append(result, `":{`...)

			// Empty values are holes in the numbering and are skipped
			firstValue := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !firstValue {
					result = append(result, ',')
				}
				result = append(result, '"')
				result = append(result, value...)
				result = append(result, `":`...)
				result = append(result, itoa(idx)...)
				firstValue = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	result = append(result, '}')
	return result
}

// appendIDMap writes a {"format":id,...} object ordered by ID
func appendIDMap(result []byte, m map[string]int) []byte {
	byID := make([]string, 0, len(m))
	for format := range m {
		byID = append(byID, format)
	}
	// insertion sort by ID; tables are small
	for i := 1; i < len(byID); i++ {
		for j := i; j > 0 && m[byID[j]] < m[byID[j-1]]; j-- {
			byID[j], byID[j-1] = byID[j-1], byID[j]
		}
	}

	result = append(result, '{')
	for i, format := range byID {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, format...)
		result = append(result, `":`...)
		result = append(result, itoa(m[format])...)
	}
	return append(result, '}')
}

// sortStrings is an insertion sort, enough for a handful of names and free of
// the sort package on small targets
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// GetChunk returns a copy of up to count bytes of the dictionary at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	// Copy so the transport never holds a slice of the cache
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
