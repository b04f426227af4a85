// Package bridge publishes a NAX device's state to an MQTT broker and
// turns messages on its set topics into device commands.
//
// Every mirrored attribute is published retained under
// <prefix>/<device>/state/, so a new subscriber sees the whole device at
// once. Availability is "online" only while the device session is
// Connected; the broker publishes "offline" through the will message if
// the bridge itself dies. See Topics for the full layout.
//
// Client wraps paho.mqtt.golang with timeouts and subscription
// restoration; Bridge only needs the Broker interface, so tests can run
// it without a broker.
package bridge
