// Package events defines the bus topics and payload types shared by the
// radio service and its consumers.
package events

import "time"

const (
	TopicConnStatus  = "conn.status"
	TopicMessage     = "radio.message"
	TopicAprsChunk   = "radio.aprs.chunk"
	TopicChannelInfo = "radio.channel.info"
)

type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Timestamp     time.Time
}
