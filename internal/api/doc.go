// Package api serves NAX devices over HTTP with chi.
//
// Routes, relative to /api/v1 for the default device or
// /api/v1/devices/{device} for any configured one:
//
//	GET  /connection          session state, staleness and last error
//	POST /reconnect           drop and re-establish the session
//	POST /refresh?path=       re-read a subtree from the device
//	GET  /state?prefix=       every mirrored attribute under prefix
//	GET  /state/{path}        one attribute
//	PUT  /state/{path}        {"value": ...}; waits for confirmation
//	GET  /zones[/{zone}]      typed zone views
//	GET  /inputs, /streams, /chimes, /info
//	GET  /events?prefix=&replay=true   WebSocket stream of changes
//
// plus GET /api/v1/health, GET /api/v1/devices and, when configured,
// GET /metrics. {path} is a device path without its leading slash or a
// shorthand such as zone/1/volume.
//
// Engine errors map to status codes by kind: invalid commands 400,
// unknown paths 404, busy 409, device rejections 422, not connected 503,
// timeouts 504.
package api
