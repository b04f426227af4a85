package nax

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jetsoncontrols/ha-nax/internal/dispatch"
	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/protocol"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// DefaultVolumeStep is a tenth of the default volume range.
const DefaultVolumeStep = 10

// Zone is a typed view of one zone output. Getters read the mirror;
// setters dispatch a command and wait for confirmation.
type Zone struct {
	c  *Client
	ID string
}

// Zones returns every zone the device has reported, in ID order.
func (c *Client) Zones() []*Zone {
	ids := c.store.Children(protocol.ZonesPath)
	out := make([]*Zone, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Zone{c: c, ID: id})
	}
	return out
}

// Zone returns the zone with the given ID ("Zone01") or number ("1").
// The zone is not checked for existence.
func (c *Client) Zone(ref string) *Zone {
	return &Zone{c: c, ID: protocol.ZoneID(ref)}
}

// Exists reports whether the device has reported this zone.
func (z *Zone) Exists() bool {
	return slices.Contains(z.c.store.Children(protocol.ZonesPath), z.ID)
}

func (z *Zone) str(p state.DevicePath) string {
	v, ok := z.c.store.Value(p)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (z *Zone) boolean(p state.DevicePath) (bool, bool) {
	v, ok := z.c.store.Value(p)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

func (z *Zone) set(ctx context.Context, p state.DevicePath, v state.Value) (dispatch.Result, error) {
	return z.c.send(ctx, p, v)
}

// Name returns the zone's display name.
func (z *Zone) Name() string { return z.str(protocol.ZonePath(z.ID, protocol.ZoneName)) }

// Volume returns the current volume and whether it is known.
func (z *Zone) Volume() (int, bool) {
	v, ok := z.c.store.Value(protocol.ZoneAudioPath(z.ID, protocol.AudioVolume))
	if !ok {
		return 0, false
	}
	i, ok := v.AsInt()
	return int(i), ok
}

// SetVolume sets an absolute volume within the configured range.
func (z *Zone) SetVolume(ctx context.Context, level int) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioVolume), state.Int(int64(level)))
}

// VolumeUp raises the volume by step, clamped to the range. A step of 0
// uses DefaultVolumeStep.
func (z *Zone) VolumeUp(ctx context.Context, step int) (dispatch.Result, error) {
	return z.stepVolume(ctx, step)
}

// VolumeDown lowers the volume by step, clamped to the range.
func (z *Zone) VolumeDown(ctx context.Context, step int) (dispatch.Result, error) {
	if step == 0 {
		step = DefaultVolumeStep
	}
	return z.stepVolume(ctx, -step)
}

func (z *Zone) stepVolume(ctx context.Context, delta int) (dispatch.Result, error) {
	if delta == 0 {
		delta = DefaultVolumeStep
	}
	cur, ok := z.Volume()
	if !ok {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(
			protocol.ZoneAudioPath(z.ID, protocol.AudioVolume).String(), "current volume unknown")
	}
	r := z.c.cfg.volumeRange()
	level := min(max(int64(cur+delta), r.Min), r.Max)
	return z.SetVolume(ctx, int(level))
}

// Muted returns the mute state and whether it is known.
func (z *Zone) Muted() (bool, bool) {
	return z.boolean(protocol.ZoneAudioPath(z.ID, protocol.AudioMuted))
}

// SetMuted mutes or unmutes the zone.
func (z *Zone) SetMuted(ctx context.Context, muted bool) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioMuted), state.Bool(muted))
}

// Source returns the routed input ID, or "" when the zone is off.
func (z *Zone) Source() string { return z.str(protocol.RoutePath(z.ID)) }

// On reports whether the zone has a source routed.
func (z *Zone) On() bool { return z.Source() != "" }

// SelectSource routes an input to the zone. input may be an input ID
// ("Input01"), a number ("1") or an input's display name.
func (z *Zone) SelectSource(ctx context.Context, input string) (dispatch.Result, error) {
	id := z.c.resolveInput(input)
	res, err := z.set(ctx, protocol.RoutePath(z.ID), state.Enum(id))
	if err == nil {
		z.c.rememberSource(z.ID, id)
	}
	return res, err
}

// TurnOff unroutes the zone's source.
func (z *Zone) TurnOff(ctx context.Context) (dispatch.Result, error) {
	z.c.rememberSource(z.ID, z.Source())
	return z.set(ctx, protocol.RoutePath(z.ID), state.Enum(""))
}

// TurnOn restores the last source seen on the zone since the client was
// created.
func (z *Zone) TurnOn(ctx context.Context) (dispatch.Result, error) {
	if src := z.Source(); src != "" {
		return dispatch.Result{Path: protocol.RoutePath(z.ID), Value: state.Enum(src)}, nil
	}
	last := z.c.lastSource(z.ID)
	if last == "" {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(protocol.RoutePath(z.ID).String(),
			"no previous source to restore")
	}
	return z.set(ctx, protocol.RoutePath(z.ID), state.Enum(last))
}

// Receiver returns the ID of the zone's AES67 receiver, or "".
func (z *Zone) Receiver() string { return z.str(protocol.ZonePath(z.ID, protocol.ZoneNaxRxStream)) }

// AES67Stream returns the multicast address the zone's receiver is
// playing, or "" when it has none.
func (z *Zone) AES67Stream() string {
	rx := z.Receiver()
	if rx == "" {
		return ""
	}
	addr := z.str(protocol.RxStreamPath(rx, protocol.StreamAddressStatus))
	if addr == protocol.NoStreamAddress {
		return ""
	}
	return addr
}

// SelectAES67Stream tunes the zone's receiver to a stream, given by
// address or session name. "" or "0.0.0.0" stops reception.
func (z *Zone) SelectAES67Stream(ctx context.Context, stream string) (dispatch.Result, error) {
	rx := z.Receiver()
	if rx == "" {
		return dispatch.Result{}, naxerr.NewInvalidCommandError(
			protocol.ZonePath(z.ID, protocol.ZoneNaxRxStream).String(), "zone has no AES67 receiver")
	}
	addr := z.c.resolveStream(stream)
	return z.set(ctx, protocol.RxStreamPath(rx, protocol.StreamAddressRequest), state.Enum(addr))
}

// SetTestTone turns the test tone on or off.
func (z *Zone) SetTestTone(ctx context.Context, on bool) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioTestTone), state.Bool(on))
}

// SetLoudness enables or disables loudness compensation.
func (z *Zone) SetLoudness(ctx context.Context, on bool) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioLoudness), state.Bool(on))
}

// NightMode returns the zone's night mode.
func (z *Zone) NightMode() string { return z.str(protocol.ZoneAudioPath(z.ID, protocol.AudioNightMode)) }

// SetNightMode selects one of protocol.NightModes.
func (z *Zone) SetNightMode(ctx context.Context, mode string) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioNightMode), state.Enum(canonical(protocol.NightModes, mode)))
}

// ToneProfile returns the zone's tone profile.
func (z *Zone) ToneProfile() string {
	return z.str(protocol.ZoneAudioPath(z.ID, protocol.AudioToneProfile))
}

// SetToneProfile selects one of protocol.ToneProfiles.
func (z *Zone) SetToneProfile(ctx context.Context, profile string) (dispatch.Result, error) {
	return z.set(ctx, protocol.ZoneAudioPath(z.ID, protocol.AudioToneProfile),
		state.Enum(canonical(protocol.ToneProfiles, profile)))
}

// Faults returns the speaker fault flags that are currently raised.
func (z *Zone) Faults() []string {
	var out []string
	for _, f := range protocol.SpeakerFaults {
		if on, ok := z.boolean(protocol.ZoneAudioPath(z.ID, "Speaker", "Faults", f)); ok && on {
			out = append(out, f)
		}
	}
	return out
}

// SignalDetected reports whether audio is present on the zone output.
func (z *Zone) SignalDetected() bool {
	on, _ := z.boolean(protocol.ZonePath(z.ID, protocol.ZoneSignalDetected))
	return on
}

// PlayChime plays a door chime, given by ID, number or name.
func (c *Client) PlayChime(ctx context.Context, chime string) (dispatch.Result, error) {
	id := protocol.ChimeID(chime)
	for _, ch := range c.Chimes() {
		if strings.EqualFold(ch.Name, chime) {
			id = ch.ID
			break
		}
	}
	return c.send(ctx, protocol.ChimePath(id, protocol.ChimePlay), state.Bool(true))
}

// PlayChime plays a door chime. Chimes are device-wide; the zone is only
// a convenience for callers holding a Zone.
func (z *Zone) PlayChime(ctx context.Context, chime string) (dispatch.Result, error) {
	return z.c.PlayChime(ctx, chime)
}

// String implements fmt.Stringer.
func (z *Zone) String() string {
	if name := z.Name(); name != "" {
		return fmt.Sprintf("%s (%s)", name, z.ID)
	}
	return z.ID
}

// canonical returns the option matching s case-insensitively, or s.
func canonical(options []string, s string) string {
	for _, o := range options {
		if strings.EqualFold(o, s) {
			return o
		}
	}
	return s
}
