package protocol

import (
	"fmt"
	"slices"

	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// OptionSource names where an enum attribute gets its options from when
// they are not fixed.
type OptionSource int

const (
	// OptionsStatic uses Attribute.Options as given.
	OptionsStatic OptionSource = iota
	// OptionsInputs uses the inputs discovered under InputsPath.
	OptionsInputs
	// OptionsAES67 uses the stream addresses advertised by the device.
	OptionsAES67
)

// Range is an inclusive numeric bound.
type Range struct {
	Min int64 `yaml:"min" json:"min"`
	Max int64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within r.
func (r Range) Contains(v float64) bool {
	return v >= float64(r.Min) && v <= float64(r.Max)
}

// Attribute declares the shape of every path matching Pattern.
type Attribute struct {
	Pattern    state.DevicePath
	Kind       state.Kind
	Writable   bool
	HasRange   bool
	Range      Range
	Options    []string
	Discovered OptionSource
	// AllowEmpty accepts "" as a valid enum value (route off).
	AllowEmpty bool
}

// Schema is an ordered list of declared attributes. The first matching
// pattern wins.
type Schema struct {
	attrs []Attribute
}

// NewSchema builds a schema from attrs.
func NewSchema(attrs ...Attribute) *Schema {
	return &Schema{attrs: slices.Clone(attrs)}
}

// Lookup returns the attribute declared for path.
func (s *Schema) Lookup(path state.DevicePath) (Attribute, bool) {
	if s == nil {
		return Attribute{}, false
	}
	for _, a := range s.attrs {
		if path.Match(a.Pattern) {
			return a, true
		}
	}
	return Attribute{}, false
}

// Attributes returns a copy of the declared attributes.
func (s *Schema) Attributes() []Attribute {
	return slices.Clone(s.attrs)
}

// Catalog exposes the discovered device tree to the Encoder.
// *state.Store implements it.
type Catalog interface {
	Children(prefix state.DevicePath) []string
	Value(path state.DevicePath) (state.Value, bool)
}

func rw(pattern string, kind state.Kind) Attribute {
	return Attribute{Pattern: state.DevicePath(pattern), Kind: kind, Writable: true}
}

func ro(pattern string, kind state.Kind) Attribute {
	return Attribute{Pattern: state.DevicePath(pattern), Kind: kind}
}

// DefaultSchema declares the NAX zone, routing, stream, chime and device
// info attributes. volume bounds ZoneAudio/Volume.
func DefaultSchema(volume Range) *Schema {
	const zone = "/Device/ZoneOutputs/Zones/*"
	const audio = zone + "/ZoneAudio"

	vol := rw(audio+"/Volume", state.KindInt)
	vol.HasRange = true
	vol.Range = volume

	night := rw(audio+"/NightMode", state.KindEnum)
	night.Options = NightModes
	tone := rw(audio+"/ToneProfile", state.KindEnum)
	tone.Options = ToneProfiles

	route := rw("/Device/AvMatrixRouting/Routes/*/AudioSource", state.KindEnum)
	route.Discovered = OptionsInputs
	route.AllowEmpty = true

	aes := rw("/Device/NaxAudio/NaxRx/NaxRxStreams/*/NetworkAddressRequested", state.KindEnum)
	aes.Discovered = OptionsAES67

	attrs := []Attribute{
		vol,
		rw(audio+"/IsMuted", state.KindBool),
		rw(audio+"/IsTestToneActive", state.KindBool),
		rw(audio+"/IsLoudnessEnabled", state.KindBool),
		night,
		tone,
		ro(audio+"/IsAmplificationSupported", state.KindBool),
		ro(audio+"/Speaker/Faults/*", state.KindBool),
		ro(zone+"/Name", state.KindString),
		ro(zone+"/NaxRxStream", state.KindString),
		ro(zone+"/IsSignalDetected", state.KindBool),
		ro(zone+"/IsSignalClipping", state.KindBool),
		ro(zone+"/ZoneBasedProviders/IsCastingActive", state.KindBool),
		route,
		ro("/Device/InputSources/Inputs/*/Name", state.KindString),
		ro("/Device/InputSources/Inputs/*/IsSignalPresent", state.KindBool),
		ro("/Device/InputSources/Inputs/*/IsClippingDetected", state.KindBool),
		aes,
		ro("/Device/NaxAudio/NaxRx/NaxRxStreams/*/NetworkAddressStatus", state.KindString),
		ro("/Device/DoorChimes/DefaultChimes/*/Name", state.KindString),
		rw("/Device/DoorChimes/DefaultChimes/*/Play", state.KindBool),
	}
	for _, streams := range []string{"NaxSdp/NaxSdpStreams", "NaxTx/NaxTxStreams"} {
		for _, leaf := range []string{StreamAddressStatus, StreamSessionName} {
			attrs = append(attrs, ro(fmt.Sprintf("/Device/NaxAudio/%s/*/%s", streams, leaf), state.KindString))
		}
	}
	for _, m := range []state.DevicePath{RxMappingPath, TxMappingPath} {
		attrs = append(attrs, ro(string(m)+"/*/Path", state.KindString))
	}
	for _, leaf := range []string{"Name", "MacAddress", "Manufacturer", "Model", "DeviceVersion", "SerialNumber"} {
		attrs = append(attrs, ro(string(DeviceInfoPath)+"/"+leaf, state.KindString))
	}
	return NewSchema(attrs...)
}
