package protocol

import "github.com/jetsoncontrols/ha-nax/internal/state"

// Well-known subtrees of the NAX device tree.
const (
	DeviceRoot       state.DevicePath = "/Device"
	ZonesPath        state.DevicePath = "/Device/ZoneOutputs/Zones"
	RoutesPath       state.DevicePath = "/Device/AvMatrixRouting/Routes"
	InputsPath       state.DevicePath = "/Device/InputSources/Inputs"
	NaxRxStreamsPath state.DevicePath = "/Device/NaxAudio/NaxRx/NaxRxStreams"
	NaxTxStreamsPath state.DevicePath = "/Device/NaxAudio/NaxTx/NaxTxStreams"
	SdpStreamsPath   state.DevicePath = "/Device/NaxAudio/NaxSdp/NaxSdpStreams"
	RxMappingPath    state.DevicePath = "/Device/NaxAudio/StreamReferenceMapping/NaxRxStreams"
	TxMappingPath    state.DevicePath = "/Device/NaxAudio/StreamReferenceMapping/NaxTxStreams"
	ChimesPath       state.DevicePath = "/Device/DoorChimes/DefaultChimes"
	DeviceInfoPath   state.DevicePath = "/Device/DeviceInfo"
)

// SubscribeAll is the get frame that returns the whole device tree.
const SubscribeAll = "/Device/"

// NoStreamAddress is the AES67 receive address meaning "no stream".
const NoStreamAddress = "0.0.0.0"

// Zone attribute names.
const (
	ZoneName             = "Name"
	ZoneAudio            = "ZoneAudio"
	ZoneNaxRxStream      = "NaxRxStream"
	ZoneSignalDetected   = "IsSignalDetected"
	ZoneSignalClipping   = "IsSignalClipping"
	ZoneProviders        = "ZoneBasedProviders"
	ZoneCastingActive    = "IsCastingActive"
	AudioVolume          = "Volume"
	AudioMuted           = "IsMuted"
	AudioTestTone        = "IsTestToneActive"
	AudioLoudness        = "IsLoudnessEnabled"
	AudioNightMode       = "NightMode"
	AudioToneProfile     = "ToneProfile"
	AudioAmplification   = "IsAmplificationSupported"
	RouteAudioSource     = "AudioSource"
	InputName            = "Name"
	InputSignalPresent   = "IsSignalPresent"
	InputClipping        = "IsClippingDetected"
	StreamAddressStatus  = "NetworkAddressStatus"
	StreamAddressRequest = "NetworkAddressRequested"
	StreamSessionName    = "SessionNameStatus"
	MappingPath          = "Path"
	ChimeName            = "Name"
	ChimePlay            = "Play"
)

// Speaker fault flags under ZoneAudio/Speaker/Faults.
var SpeakerFaults = []string{
	"IsClippingDetected",
	"IsCriticalFaultDetected",
	"IsDcFaultDetected",
	"IsOverCurrentConditionDetected",
	"IsOverTemperatureConditionDetected",
	"IsVoltageFaultDetected",
}

// NightModes are the accepted ZoneAudio/NightMode values.
var NightModes = []string{"Off", "Low", "Medium", "High"}

// ToneProfiles are the accepted ZoneAudio/ToneProfile values.
var ToneProfiles = []string{"Off", "Classical", "Jazz", "Pop", "Rock", "SpokenWord"}

// ZonePath returns a path under one zone output, e.g.
// ZonePath("Zone01", "ZoneAudio", "Volume").
func ZonePath(zone string, leaf ...string) state.DevicePath {
	return ZonesPath.Child(append([]string{zone}, leaf...)...)
}

// ZoneAudioPath returns a path under a zone's ZoneAudio node.
func ZoneAudioPath(zone string, leaf ...string) state.DevicePath {
	return ZonePath(zone, append([]string{ZoneAudio}, leaf...)...)
}

// RoutePath returns the AudioSource routing path for a zone.
func RoutePath(zone string) state.DevicePath {
	return RoutesPath.Child(zone, RouteAudioSource)
}

// RxStreamPath returns a path under one AES67 receiver.
func RxStreamPath(receiver string, leaf ...string) state.DevicePath {
	return NaxRxStreamsPath.Child(append([]string{receiver}, leaf...)...)
}

// ChimePath returns a path under one door chime.
func ChimePath(id string, leaf ...string) state.DevicePath {
	return ChimesPath.Child(append([]string{id}, leaf...)...)
}
