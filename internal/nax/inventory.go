package nax

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Input is one audio input source.
type Input struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SignalPresent bool   `json:"signal_present"`
	Clipping      bool   `json:"clipping"`
}

// StreamKind tells where an AES67 stream was announced.
type StreamKind string

const (
	StreamNone StreamKind = "none"
	StreamSDP  StreamKind = "sdp"
	StreamTx   StreamKind = "tx"
)

// Stream is an AES67 stream a zone receiver can tune to.
type Stream struct {
	ID          string     `json:"id"`
	Kind        StreamKind `json:"kind"`
	Address     string     `json:"address"`
	SessionName string     `json:"session_name"`
}

// Chime is a door chime.
type Chime struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeviceInfo identifies the device.
type DeviceInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	Firmware     string `json:"firmware"`
	SerialNumber string `json:"serial_number"`
	MacAddress   string `json:"mac_address"`
}

func (c *Client) text(p state.DevicePath) string {
	v, ok := c.store.Value(p)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (c *Client) flag(p state.DevicePath) bool {
	v, ok := c.store.Value(p)
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

// Inputs lists the inputs the device has reported.
func (c *Client) Inputs() []Input {
	ids := c.store.Children(protocol.InputsPath)
	out := make([]Input, 0, len(ids))
	for _, id := range ids {
		base := protocol.InputsPath.Child(id)
		out = append(out, Input{
			ID:            id,
			Name:          c.text(base.Child(protocol.InputName)),
			SignalPresent: c.flag(base.Child(protocol.InputSignalPresent)),
			Clipping:      c.flag(base.Child(protocol.InputClipping)),
		})
	}
	return out
}

// AES67Streams lists the selectable streams sorted by address, starting
// with the "None" entry for 0.0.0.0.
func (c *Client) AES67Streams() []Stream {
	out := []Stream{{ID: "None", Kind: StreamNone, Address: protocol.NoStreamAddress, SessionName: "None"}}
	seen := map[string]bool{protocol.NoStreamAddress: true}
	for _, src := range []struct {
		root state.DevicePath
		kind StreamKind
	}{
		{protocol.SdpStreamsPath, StreamSDP},
		{protocol.NaxTxStreamsPath, StreamTx},
	} {
		for _, id := range c.store.Children(src.root) {
			addr := c.text(src.root.Child(id, protocol.StreamAddressStatus))
			if addr == "" || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, Stream{
				ID:          id,
				Kind:        src.kind,
				Address:     addr,
				SessionName: c.text(src.root.Child(id, protocol.StreamSessionName)),
			})
		}
	}
	slices.SortStableFunc(out[1:], func(a, b Stream) int {
		pa, erra := netip.ParseAddr(a.Address)
		pb, errb := netip.ParseAddr(b.Address)
		if erra != nil || errb != nil {
			return strings.Compare(a.Address, b.Address)
		}
		return pa.Compare(pb)
	})
	return out
}

// Chimes lists the door chimes.
func (c *Client) Chimes() []Chime {
	ids := c.store.Children(protocol.ChimesPath)
	out := make([]Chime, 0, len(ids))
	for _, id := range ids {
		out = append(out, Chime{ID: id, Name: c.text(protocol.ChimePath(id, protocol.ChimeName))})
	}
	return out
}

// DeviceInfo returns the identification block.
func (c *Client) DeviceInfo() DeviceInfo {
	at := func(leaf string) string { return c.text(protocol.DeviceInfoPath.Child(leaf)) }
	return DeviceInfo{
		Name:         at("Name"),
		Model:        at("Model"),
		Manufacturer: at("Manufacturer"),
		Firmware:     at("DeviceVersion"),
		SerialNumber: at("SerialNumber"),
		MacAddress:   at("MacAddress"),
	}
}

// resolveInput maps a number or display name to an input ID. Unknown
// references pass through for the encoder to reject.
func (c *Client) resolveInput(ref string) string {
	if ref == "" {
		return ""
	}
	inputs := c.Inputs()
	for _, in := range inputs {
		if in.ID == ref {
			return ref
		}
	}
	if id := protocol.InputID(ref); id != ref {
		return id
	}
	for _, in := range inputs {
		if strings.EqualFold(in.Name, ref) {
			return in.ID
		}
	}
	return ref
}

// resolveStream maps a session name to its address.
func (c *Client) resolveStream(ref string) string {
	if ref == "" || strings.EqualFold(ref, "none") {
		return protocol.NoStreamAddress
	}
	for _, s := range c.AES67Streams() {
		if s.Address == ref {
			return ref
		}
	}
	for _, s := range c.AES67Streams() {
		if strings.EqualFold(s.SessionName, ref) {
			return s.Address
		}
	}
	return ref
}
