package protocol

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/jetsoncontrols/ha-nax/internal/naxerr"
	"github.com/jetsoncontrols/ha-nax/internal/state"
)

// Command is a request to set one attribute.
type Command struct {
	Path  state.DevicePath
	Value state.Value
}

// Encoder validates commands and renders them as CresNext set frames.
// It is safe for concurrent use as long as the Catalog is.
type Encoder struct {
	schema  *Schema
	catalog Catalog
}

// NewEncoder creates an Encoder. catalog may be nil, in which case
// discovered enums fall back to format checks.
func NewEncoder(schema *Schema, catalog Catalog) *Encoder {
	return &Encoder{schema: schema, catalog: catalog}
}

// Encode validates cmd and returns the set frame together with the value
// normalized to the declared kind. Validation failures are
// InvalidCommandErrors.
func (e *Encoder) Encode(cmd Command) ([]byte, state.Value, error) {
	v, err := e.Validate(cmd)
	if err != nil {
		return nil, state.Value{}, err
	}
	payload, err := nest(cmd.Path, v)
	if err != nil {
		return nil, state.Value{}, naxerr.NewInvalidCommandError(cmd.Path.String(), err.Error())
	}
	return payload, v, nil
}

// EncodeGet returns the get frame for path. A trailing slash requests the
// whole subtree.
func (e *Encoder) EncodeGet(path state.DevicePath) []byte {
	if path.IsRoot() || path == DeviceRoot {
		return []byte(SubscribeAll)
	}
	return []byte(path.String())
}

// Validate checks cmd against the schema and returns the normalized value.
func (e *Encoder) Validate(cmd Command) (state.Value, error) {
	p := cmd.Path.String()
	attr, ok := e.schema.Lookup(cmd.Path)
	if !ok {
		return state.Value{}, naxerr.NewInvalidCommandError(p, "path is not a known attribute")
	}
	if !attr.Writable {
		return state.Value{}, naxerr.NewInvalidCommandError(p, "attribute is read-only")
	}
	if !cmd.Value.IsValid() {
		return state.Value{}, naxerr.NewInvalidCommandError(p, "missing value")
	}

	switch attr.Kind {
	case state.KindInt:
		i, ok := cmd.Value.AsInt()
		if !ok {
			return state.Value{}, kindMismatch(p, attr.Kind, cmd.Value)
		}
		if attr.HasRange && !attr.Range.Contains(float64(i)) {
			return state.Value{}, naxerr.NewInvalidCommandError(p,
				fmt.Sprintf("value %d outside range %d..%d", i, attr.Range.Min, attr.Range.Max))
		}
		return state.Int(i), nil

	case state.KindFloat:
		f, ok := cmd.Value.AsFloat()
		if !ok {
			return state.Value{}, kindMismatch(p, attr.Kind, cmd.Value)
		}
		if attr.HasRange && !attr.Range.Contains(f) {
			return state.Value{}, naxerr.NewInvalidCommandError(p,
				fmt.Sprintf("value %g outside range %d..%d", f, attr.Range.Min, attr.Range.Max))
		}
		return state.Float(f), nil

	case state.KindBool:
		if _, ok := cmd.Value.AsBool(); !ok {
			return state.Value{}, kindMismatch(p, attr.Kind, cmd.Value)
		}
		return cmd.Value, nil

	case state.KindString:
		s, ok := cmd.Value.AsString()
		if !ok {
			return state.Value{}, kindMismatch(p, attr.Kind, cmd.Value)
		}
		return state.String(s), nil

	case state.KindEnum:
		s, ok := cmd.Value.AsString()
		if !ok {
			return state.Value{}, kindMismatch(p, attr.Kind, cmd.Value)
		}
		if err := e.checkOption(cmd.Path, attr, s); err != nil {
			return state.Value{}, err
		}
		return state.Enum(s), nil
	}
	return cmd.Value, nil
}

func kindMismatch(path string, want state.Kind, got state.Value) error {
	return naxerr.NewInvalidCommandError(path,
		fmt.Sprintf("expected %s value, got %s", want, got.Kind()))
}

func (e *Encoder) checkOption(path state.DevicePath, attr Attribute, s string) error {
	if s == "" && attr.AllowEmpty {
		return nil
	}
	opts := e.options(attr)
	if len(opts) > 0 {
		if slices.Contains(opts, s) {
			return nil
		}
		return naxerr.NewInvalidCommandError(path.String(),
			fmt.Sprintf("%q is not one of %s", s, strings.Join(opts, ", ")))
	}

	// Nothing discovered yet: validate the format only.
	switch attr.Discovered {
	case OptionsAES67:
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return naxerr.NewInvalidCommandError(path.String(),
				fmt.Sprintf("%q is not an IPv4 multicast address", s))
		}
		return nil
	case OptionsInputs:
		if s == "" {
			return naxerr.NewInvalidCommandError(path.String(), "empty input")
		}
		return nil
	}
	return naxerr.NewInvalidCommandError(path.String(), "attribute has no options")
}

// Options returns the currently valid values for the enum attribute at
// path, including discovered ones. The second result is false when path
// is not a declared enum.
func (e *Encoder) Options(path state.DevicePath) ([]string, bool) {
	attr, ok := e.schema.Lookup(path)
	if !ok || attr.Kind != state.KindEnum {
		return nil, false
	}
	return e.options(attr), true
}

func (e *Encoder) options(attr Attribute) []string {
	switch attr.Discovered {
	case OptionsInputs:
		if e.catalog == nil {
			return nil
		}
		return e.catalog.Children(InputsPath)
	case OptionsAES67:
		return e.aes67Addresses()
	default:
		return attr.Options
	}
}

func (e *Encoder) aes67Addresses() []string {
	if e.catalog == nil {
		return nil
	}
	var out []string
	for _, root := range []state.DevicePath{SdpStreamsPath, NaxTxStreamsPath} {
		for _, id := range e.catalog.Children(root) {
			v, ok := e.catalog.Value(root.Child(id, StreamAddressStatus))
			if !ok {
				continue
			}
			if s, ok := v.AsString(); ok && s != "" && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	if !slices.Contains(out, NoStreamAddress) {
		out = append(out, NoStreamAddress)
	}
	return out
}

// nest renders {"A":{"B":{"C":v}}} for path /A/B/C.
func nest(path state.DevicePath, v state.Value) ([]byte, error) {
	segs := path.Segments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("cannot set the root")
	}
	var node any = v
	for i := len(segs) - 1; i >= 0; i-- {
		node = map[string]any{segs[i]: node}
	}
	return json.Marshal(node)
}
