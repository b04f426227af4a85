// Package naxerr defines the error taxonomy shared by the transport, codec,
// session and dispatcher.
//
// Every failure the client surfaces is an *Error with a Kind. Callers branch
// on the Kind through the IsXxx predicates, which follow %w wrapping:
//
//	if _, err := client.SendCommand(ctx, path, value); naxerr.IsNotConnected(err) {
//	    // wait for ConnectionState to return to Connected
//	}
//
// Session-level kinds (Network, Auth, TLS, Unavailable) drive reconnect
// decisions. Command-level kinds (InvalidCommand, Timeout, DeviceRejected,
// NotConnected, Busy, Superseded) stay local to one dispatch.
package naxerr
