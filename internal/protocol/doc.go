// Package protocol implements the CresNext JSON codec used by NAX devices.
//
// CresNext exposes the device as one JSON tree rooted at "Device". The
// client reads it by sending a path as a text frame and writes it by sending
// a partial nested object that is merged into the tree.
//
// # Inbound frames
//
// The device pushes changed subtrees as JSON objects. A single WebSocket
// message may carry several concatenated objects, and an object may span
// several messages. The Decoder buffers text across frames and flattens each
// complete object into leaf StateUpdate events:
//
//	{"Device":{"ZoneOutputs":{"Zones":{"Zone01":{"ZoneAudio":{"Volume":55}}}}}}
//
// becomes StateUpdate{Path: /Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume, Value: 55}.
//
// Command results arrive as an Actions envelope:
//
//	{"Actions":[{"Results":[{"Path":"/Device/...","Property":"Volume","StatusInfo":"OK"}]}]}
//
// and decode to one CommandEcho per result.
//
// # Outbound frames
//
// The Encoder validates a Command against the Schema (declared path, writable,
// kind, range, enum membership) and renders it as the nested partial object.
// Options for routing and AES67 attributes are discovered from the live tree
// through a Catalog, normally the state.Store.
//
// # Usage Example
//
//	schema := protocol.DefaultSchema(protocol.Range{Min: 0, Max: 100})
//	dec := protocol.NewDecoder(schema)
//	events, err := dec.Decode(frame)
//
//	enc := protocol.NewEncoder(schema, store)
//	payload, normalized, err := enc.Encode(protocol.Command{Path: p, Value: state.Int(55)})
package protocol
