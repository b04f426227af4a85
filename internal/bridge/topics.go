package bridge

import (
	"strings"

	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Topics builds the topic tree for one device:
//
//	<prefix>/<device>/availability     online|offline (retained, LWT offline)
//	<prefix>/<device>/connection       session state as JSON (retained)
//	<prefix>/<device>/state/<path>     attribute value as JSON (retained)
//	<prefix>/<device>/set/<path>       commands in
//	<prefix>/<device>/result           command outcomes out
//
// <path> is a device path without its leading slash
// ("Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume"). Set topics also
// accept shorthands such as "zone/1/volume".
type Topics struct {
	Prefix string
	Device string
}

// NewTopics returns the topics for device under prefix. The device name
// is sanitized into a single topic level.
func NewTopics(prefix, device string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: strings.TrimSuffix(prefix, "/"), Device: TopicSegment(device)}
}

// TopicSegment makes s safe to use as one topic level.
func TopicSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ', 0:
			return '_'
		}
		return r
	}, s)
}

func (t Topics) root() string { return t.Prefix + "/" + t.Device }

// Availability is the retained online/offline topic.
func (t Topics) Availability() string { return t.root() + "/availability" }

// Connection carries the session state.
func (t Topics) Connection() string { return t.root() + "/connection" }

// State is the retained value topic for p.
func (t Topics) State(p state.DevicePath) string {
	return t.root() + "/state/" + strings.TrimPrefix(p.String(), "/")
}

// Set is the command topic for path.
func (t Topics) Set(path string) string {
	return t.root() + "/set/" + strings.TrimPrefix(path, "/")
}

// SetWildcard matches every command topic.
func (t Topics) SetWildcard() string { return t.root() + "/set/#" }

// Result carries command outcomes.
func (t Topics) Result() string { return t.root() + "/result" }

// ParseSet extracts the target path from a command topic. Full device
// paths come back absolute; shorthands come back as given.
func (t Topics) ParseSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/set/")
	if !ok || rest == "" {
		return "", false
	}
	if strings.HasPrefix(rest, "Device/") {
		return "/" + rest, true
	}
	return rest, true
}
