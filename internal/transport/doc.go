// Package transport opens authenticated CresNext WebSocket connections.
//
// Connecting is a two-step handshake followed by an upgrade:
//
//  1. GET /userlogin.html, which sets the TRACKID session cookie.
//  2. POST /userlogin.html with login/passwd; the response carries the
//     CREST-XSRF-TOKEN header.
//  3. Upgrade wss://host/websockify with the session cookies, Origin and
//     the token echoed as X-CREST-XSRF-TOKEN. permessage-deflate is offered.
//
// A Conn serializes all writes through one goroutine, sends a ping every
// heartbeat interval and turns each pong into a Heartbeat frame so the
// caller can run a liveness watchdog:
//
//	d := &transport.Dialer{Host: "192.168.1.50"}
//	conn, err := d.Dial(ctx, transport.Credentials{Username: "admin", Password: pw})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//	_ = conn.Send(ctx, []byte("/Device/"))
//	for f := range conn.Frames() {
//	    ...
//	}
//
// Errors are *naxerr.Error values: Network for connectivity, Auth for
// rejected credentials and TLS for certificate failures.
package transport
