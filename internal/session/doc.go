// Package session keeps one NAX device connected.
//
// A Manager moves through Connecting, Authenticating and Subscribing to
// Connected, and falls back to Reconnecting when the socket dies, the
// device stops answering heartbeats, or Reconnect is called. Retries wait
// for a non-decreasing, capped, jittered delay. Auth and TLS failures are
// fatal, as is running out of attempts when BackoffConfig.MaxAttempts is
// set.
//
// The run goroutine is the only writer of the connection state and the
// only feeder of the store and dispatcher. Each decoded event is applied
// to the store before the dispatcher sees it, so a command confirmed by a
// state update is already visible through Snapshot when Dispatch returns.
package session
