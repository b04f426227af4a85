// Package dispatch sends validated commands to a NAX device and waits for
// the device to confirm them.
//
// A command is confirmed by whichever arrives first: an Actions result
// for its path, or a state update reporting the commanded value. Only one
// command per path may be outstanding; the BusyPolicy decides whether a
// second one fails with Busy or replaces the first. Each dispatch runs in
// an OpenTelemetry span named "nax.dispatch".
package dispatch
