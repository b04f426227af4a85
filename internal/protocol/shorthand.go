package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// zoneShorthand maps short attribute names to zone-relative leaves.
var zoneShorthand = map[string]func(zone string) state.DevicePath{
	"name":        func(z string) state.DevicePath { return ZonePath(z, ZoneName) },
	"volume":      func(z string) state.DevicePath { return ZoneAudioPath(z, AudioVolume) },
	"mute":        func(z string) state.DevicePath { return ZoneAudioPath(z, AudioMuted) },
	"muted":       func(z string) state.DevicePath { return ZoneAudioPath(z, AudioMuted) },
	"testtone":    func(z string) state.DevicePath { return ZoneAudioPath(z, AudioTestTone) },
	"loudness":    func(z string) state.DevicePath { return ZoneAudioPath(z, AudioLoudness) },
	"nightmode":   func(z string) state.DevicePath { return ZoneAudioPath(z, AudioNightMode) },
	"toneprofile": func(z string) state.DevicePath { return ZoneAudioPath(z, AudioToneProfile) },
	"source":      RoutePath,
	"signal":      func(z string) state.DevicePath { return ZonePath(z, ZoneSignalDetected) },
	"receiver":    func(z string) state.DevicePath { return ZonePath(z, ZoneNaxRxStream) },
}

// ZoneID normalizes a zone reference: "1" and "zone01" both become
// "Zone01". Anything else is returned unchanged.
func ZoneID(ref string) string { return numberedID("Zone", ref) }

// InputID normalizes an input reference the same way as ZoneID.
func InputID(ref string) string { return numberedID("Input", ref) }

// ChimeID normalizes a chime reference the same way as ZoneID.
func ChimeID(ref string) string { return numberedID("Chime", ref) }

func numberedID(prefix, ref string) string {
	ref = strings.TrimSpace(ref)
	digits := ref
	if len(ref) > len(prefix) && strings.EqualFold(ref[:len(prefix)], prefix) {
		digits = ref[len(prefix):]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return ref
	}
	return fmt.Sprintf("%s%02d", prefix, n)
}

// ResolvePath turns a full device path or a shorthand into a DevicePath.
// Shorthands:
//
//	zone/<n>[/<attr>]    attr: name volume mute testtone loudness nightmode
//	                           toneprofile source signal receiver
//	input/<n>[/name|signal|clipping]
//	chime/<n>[/play|name]
//	device[/<DeviceInfo field>]
func ResolvePath(s string) (state.DevicePath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(s, "/") {
		return state.ParsePath(s)
	}

	parts := strings.Split(strings.Trim(s, "/"), "/")
	kind := strings.ToLower(parts[0])
	rest := parts[1:]

	switch kind {
	case "zone", "zones":
		if len(rest) == 0 {
			return ZonesPath, nil
		}
		zone := ZoneID(rest[0])
		if len(rest) == 1 {
			return ZonesPath.Child(zone), nil
		}
		build, ok := zoneShorthand[strings.ToLower(rest[1])]
		if !ok || len(rest) > 2 {
			return "", fmt.Errorf("unknown zone attribute %q", strings.Join(rest[1:], "/"))
		}
		return build(zone), nil

	case "input", "inputs":
		if len(rest) == 0 {
			return InputsPath, nil
		}
		input := InputID(rest[0])
		if len(rest) == 1 {
			return InputsPath.Child(input), nil
		}
		switch strings.ToLower(rest[1]) {
		case "name":
			return InputsPath.Child(input, InputName), nil
		case "signal":
			return InputsPath.Child(input, InputSignalPresent), nil
		case "clipping":
			return InputsPath.Child(input, InputClipping), nil
		}
		return "", fmt.Errorf("unknown input attribute %q", rest[1])

	case "chime", "chimes":
		if len(rest) == 0 {
			return ChimesPath, nil
		}
		chime := ChimeID(rest[0])
		if len(rest) == 1 {
			return ChimePath(chime), nil
		}
		switch strings.ToLower(rest[1]) {
		case "play":
			return ChimePath(chime, ChimePlay), nil
		case "name":
			return ChimePath(chime, ChimeName), nil
		}
		return "", fmt.Errorf("unknown chime attribute %q", rest[1])

	case "device", "info":
		if len(rest) == 0 {
			return DeviceInfoPath, nil
		}
		return DeviceInfoPath.Child(rest...), nil
	}
	return "", fmt.Errorf("path %q is neither absolute nor a known shorthand", s)
}
