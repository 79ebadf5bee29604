// Package opsfeed implements the read-only live event feed pushed to
// operator dashboards: a gorilla/websocket pub/sub hub that never accepts
// commands from the client, only pushes fleet events onto subscribed
// topics.
//
// Topic naming convention:
//
//	device:<device_id>  — state-change events for one device
//	fleet               — dead-session disconnect events for every device
package opsfeed

// MessageType identifies the kind of fleet event carried by a Message.
type MessageType string

const (
	// MsgConnected names a device-registered event. The server does not
	// publish it.
	MsgConnected MessageType = "device.connected"

	// MsgDisconnected is published on the fleet topic when the dead-session
	// sweep evicts a device. A session that closes cleanly publishes nothing.
	MsgDisconnected MessageType = "device.disconnected"

	// MsgStateChanged is published on the device's own topic when its
	// observed drone state changes, as reported by a heartbeat or telemetry
	// envelope.
	MsgStateChanged MessageType = "device.state_changed"

	// MsgHeartbeat names a per-heartbeat event. The server does not publish
	// it.
	MsgHeartbeat MessageType = "device.heartbeat"
)

// Message is the envelope for every event pushed to operator clients.
type Message struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Payload any         `json:"payload"`
}
