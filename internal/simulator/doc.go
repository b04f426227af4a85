// Package simulator implements a fake NAX device for tests and demos.
//
// The Device speaks the same login sequence and CresNext WebSocket protocol
// as real hardware: GET/POST /userlogin.html issue a TRACKID cookie and an
// XSRF token, /websockify upgrades with permessage-deflate, path frames are
// answered with the matching subtree and partial-object sets are merged
// into the tree and acknowledged with an Actions result.
//
// Fault injection covers the cases a client must survive: dropped
// sockets, a device that goes silent, raw frame injection, refused logins,
// rejected sets and payloads split across frames.
//
//	dev := simulator.NewDevice(simulator.DefaultConfig())
//	srv := httptest.NewTLSServer(dev)
//	defer srv.Close()
//	dev.Push("/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume", 55)
//
// Server wraps a Device in a TLS listener with a generated self-signed
// certificate for use by naxsim.
package simulator
