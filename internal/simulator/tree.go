package simulator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tree is the simulated device's JSON state.
type Tree struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewTree wraps root. root is owned by the Tree afterwards.
func NewTree(root map[string]any) *Tree {
	if root == nil {
		root = map[string]any{}
	}
	return &Tree{root: root}
}

// Leaf is one flattened attribute.
type Leaf struct {
	Path  string
	Value any
}

// Get returns the subtree at path wrapped in its ancestors, e.g. /Device/A
// yields {"Device":{"A":...}}. ok is false when the path does not exist.
func (t *Tree) Get(path string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	segs := segments(path)
	var node any = t.root
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[s]; !ok {
			return nil, false
		}
	}
	b, err := json.Marshal(wrap(segs, node))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Value returns the leaf at path.
func (t *Tree) Value(path string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var node any = t.root
	for _, s := range segments(path) {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[s]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Set stores one leaf, creating intermediate objects.
func (t *Tree) Set(path string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	segs := segments(path)
	if len(segs) == 0 {
		return
	}
	m := t.root
	for _, s := range segs[:len(segs)-1] {
		child, ok := m[s].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[s] = child
		}
		m = child
	}
	m[segs[len(segs)-1]] = value
}

// Leaves returns every leaf under path, sorted.
func (t *Tree) Leaves(path string) []Leaf {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var node any = t.root
	segs := segments(path)
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		if node, ok = m[s]; !ok {
			return nil
		}
	}
	var out []Leaf
	collect("/"+strings.Join(segs, "/"), node, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ParseSet flattens a partial-object set frame into leaves.
func ParseSet(data []byte) ([]Leaf, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid set frame: %w", err)
	}
	var out []Leaf
	collect("", root, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Nest renders leaves as one partial object.
func Nest(leaves ...Leaf) ([]byte, error) {
	root := map[string]any{}
	for _, l := range leaves {
		segs := segments(l.Path)
		if len(segs) == 0 {
			continue
		}
		m := root
		for _, s := range segs[:len(segs)-1] {
			child, ok := m[s].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[s] = child
			}
			m = child
		}
		m[segs[len(segs)-1]] = l.Value
	}
	return json.Marshal(root)
}

func collect(prefix string, node any, out *[]Leaf) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix == "" {
			prefix = "/"
		}
		*out = append(*out, Leaf{Path: prefix, Value: node})
		return
	}
	for k, v := range m {
		collect(strings.TrimSuffix(prefix, "/")+"/"+k, v, out)
	}
}

func wrap(segs []string, node any) any {
	for i := len(segs) - 1; i >= 0; i-- {
		node = map[string]any{segs[i]: node}
	}
	return node
}

func segments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultTree builds a NAX-like tree with the given number of zones and
// inputs, two transmit streams and one SDP stream.
func DefaultTree(zones, inputs int) map[string]any {
	zoneMap := map[string]any{}
	routes := map[string]any{}
	rx := map[string]any{}
	rxMap := map[string]any{}
	for i := 1; i <= zones; i++ {
		id := fmt.Sprintf("Zone%02d", i)
		rxID := fmt.Sprintf("Rx%02d", i)
		zoneMap[id] = map[string]any{
			"Name":             fmt.Sprintf("Zone %d", i),
			"NaxRxStream":      rxID,
			"IsSignalDetected": false,
			"IsSignalClipping": false,
			"ZoneBasedProviders": map[string]any{
				"IsCastingActive": false,
			},
			"ZoneAudio": map[string]any{
				"Volume":                   40,
				"IsMuted":                  false,
				"IsTestToneActive":         false,
				"IsLoudnessEnabled":        false,
				"NightMode":                "Off",
				"ToneProfile":              "Off",
				"IsAmplificationSupported": true,
				"Speaker": map[string]any{
					"Faults": map[string]any{
						"IsClippingDetected":                 false,
						"IsCriticalFaultDetected":            false,
						"IsDcFaultDetected":                  false,
						"IsOverCurrentConditionDetected":     false,
						"IsOverTemperatureConditionDetected": false,
						"IsVoltageFaultDetected":             false,
					},
				},
			},
		}
		routes[id] = map[string]any{"AudioSource": ""}
		rx[rxID] = map[string]any{
			"NetworkAddressRequested": "0.0.0.0",
			"NetworkAddressStatus":    "0.0.0.0",
		}
		rxMap[rxID] = map[string]any{"Path": "/Device/ZoneOutputs/Zones/" + id}
	}

	inputMap := map[string]any{}
	for i := 1; i <= inputs; i++ {
		inputMap[fmt.Sprintf("Input%02d", i)] = map[string]any{
			"Name":               fmt.Sprintf("Input %d", i),
			"IsSignalPresent":    i == 1,
			"IsClippingDetected": false,
		}
	}

	tx := map[string]any{
		"Tx01": map[string]any{"NetworkAddressStatus": "239.8.0.1", "SessionNameStatus": "Lobby Feed"},
		"Tx02": map[string]any{"NetworkAddressStatus": "239.8.0.2", "SessionNameStatus": "Paging"},
	}
	sdp := map[string]any{
		"Sdp01": map[string]any{"NetworkAddressStatus": "239.9.0.1", "SessionNameStatus": "Dante Bridge"},
	}

	return map[string]any{
		"Device": map[string]any{
			"DeviceInfo": map[string]any{
				"Name":          "NAX Simulator",
				"MacAddress":    "00.10.7f.00.00.01",
				"Manufacturer":  "Crestron",
				"Model":         "NAX-8ZSA",
				"DeviceVersion": "1.0.0000.00000",
				"SerialNumber":  "SIM0000001",
			},
			"ZoneOutputs":     map[string]any{"Zones": zoneMap},
			"AvMatrixRouting": map[string]any{"Routes": routes},
			"InputSources":    map[string]any{"Inputs": inputMap},
			"NaxAudio": map[string]any{
				"NaxRx":  map[string]any{"NaxRxStreams": rx},
				"NaxTx":  map[string]any{"NaxTxStreams": tx},
				"NaxSdp": map[string]any{"NaxSdpStreams": sdp},
				"StreamReferenceMapping": map[string]any{
					"NaxRxStreams": rxMap,
				},
			},
			"DoorChimes": map[string]any{
				"DefaultChimes": map[string]any{
					"Chime01": map[string]any{"Name": "Ding Dong", "Play": false},
					"Chime02": map[string]any{"Name": "Westminster", "Play": false},
				},
			},
		},
	}
}
