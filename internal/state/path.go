package state

import (
	"fmt"
	"strings"
)

// Root is the path of the whole device tree.
const Root DevicePath = "/"

// Wildcard matches exactly one segment in a pattern path.
const Wildcard = "*"

// DevicePath identifies one attribute (or subtree) of the device state,
// e.g. "/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume".
//
// Paths are normalized on construction: one leading slash, no trailing
// slash, no empty segments. Two paths are equal iff their strings are.
type DevicePath string

// ParsePath normalizes s into a DevicePath.
func ParsePath(s string) (DevicePath, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty device path")
	}
	segs := splitSegments(s)
	for _, seg := range segs {
		if strings.ContainsAny(seg, " \t\n") {
			return "", fmt.Errorf("invalid segment %q in path %q", seg, s)
		}
	}
	return Join(segs...), nil
}

// MustPath is ParsePath for literals; it panics on invalid input.
func MustPath(s string) DevicePath {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Join builds a normalized path from segments.
func Join(segments ...string) DevicePath {
	var parts []string
	for _, s := range segments {
		parts = append(parts, splitSegments(s)...)
	}
	if len(parts) == 0 {
		return Root
	}
	return DevicePath("/" + strings.Join(parts, "/"))
}

func splitSegments(s string) []string {
	raw := strings.Split(s, "/")
	out := raw[:0]
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// String returns the path text.
func (p DevicePath) String() string { return string(p) }

// IsRoot reports whether p is the tree root.
func (p DevicePath) IsRoot() bool { return p == Root || p == "" }

// Segments returns the path's segments without slashes.
func (p DevicePath) Segments() []string {
	return splitSegments(string(p))
}

// Base returns the last segment.
func (p DevicePath) Base() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Parent returns the enclosing path. The parent of a top-level path is Root.
func (p DevicePath) Parent() DevicePath {
	s := string(p)
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return Root
	}
	return DevicePath(s[:i])
}

// Child appends segments to p.
func (p DevicePath) Child(segments ...string) DevicePath {
	return Join(append([]string{string(p)}, segments...)...)
}

// HasPrefix reports whether p equals prefix or lies beneath it.
// Matching is segment-aware: "/Device/Zone1" is not under "/Device/Zone".
func (p DevicePath) HasPrefix(prefix DevicePath) bool {
	if prefix.IsRoot() {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(string(p), string(prefix)+"/")
}

// Match reports whether p matches pattern, where a "*" segment in the
// pattern matches any single segment.
func (p DevicePath) Match(pattern DevicePath) bool {
	ps := p.Segments()
	pat := pattern.Segments()
	if len(ps) != len(pat) {
		return false
	}
	for i := range pat {
		if pat[i] != Wildcard && pat[i] != ps[i] {
			return false
		}
	}
	return true
}

// Depth returns the number of segments.
func (p DevicePath) Depth() int {
	return len(p.Segments())
}
