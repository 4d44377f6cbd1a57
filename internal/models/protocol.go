// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package models

// Downstream client protocol: JSON messages over the /ws endpoint.
// Ingress is a small tagged union; egress messages are distinct
// structs sharing the "type" discriminator.

// Ingress message types (client -> server).
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
)

// Egress message types (server -> client).
const (
	MessageTypeConnected    = "connected"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeVesselUpdate = "vessel_update"
	MessageTypePong         = "pong"
)

// ClientMessage is the decoded form of every inbound client frame.
// Tiles is only meaningful for subscribe/unsubscribe. Unknown Type
// values are logged and ignored by the session.
type ClientMessage struct {
	Type  string   `json:"type"`
	Tiles []string `json:"tiles,omitempty"`
}

// ConnectedMessage acknowledges a newly accepted session.
type ConnectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

// NewConnectedMessage builds the accept acknowledgment.
func NewConnectedMessage(clientID string) ConnectedMessage {
	return ConnectedMessage{
		Type:     MessageTypeConnected,
		ClientID: clientID,
		Message:  "Connected to vessel stream",
	}
}

// SubscriptionAck acknowledges a subscribe or unsubscribe request,
// echoing the tiles that were applied.
type SubscriptionAck struct {
	Type    string   `json:"type"`
	Tiles   []string `json:"tiles"`
	Message string   `json:"message"`
}

// NewSubscribedMessage builds the subscribe acknowledgment.
func NewSubscribedMessage(tiles []string) SubscriptionAck {
	return SubscriptionAck{
		Type:    MessageTypeSubscribed,
		Tiles:   tiles,
		Message: "Subscribed to tiles",
	}
}

// NewUnsubscribedMessage builds the unsubscribe acknowledgment.
func NewUnsubscribedMessage(tiles []string) SubscriptionAck {
	return SubscriptionAck{
		Type:    MessageTypeUnsubscribed,
		Tiles:   tiles,
		Message: "Unsubscribed from tiles",
	}
}

// VesselUpdateMessage carries the current population of one tile.
// An empty Vessels list is a valid signal that the tile has been
// depopulated. The Tile field on this envelope is authoritative over
// the per-vessel tile field.
type VesselUpdateMessage struct {
	Type    string         `json:"type"`
	Tile    string         `json:"tile"`
	Vessels []VesselRecord `json:"vessels"`
}

// NewVesselUpdateMessage builds a tile snapshot message. A nil vessel
// slice marshals as an empty array, not null.
func NewVesselUpdateMessage(tileKey string, vessels []VesselRecord) VesselUpdateMessage {
	if vessels == nil {
		vessels = []VesselRecord{}
	}
	return VesselUpdateMessage{
		Type:    MessageTypeVesselUpdate,
		Tile:    tileKey,
		Vessels: vessels,
	}
}

// PongMessage answers a client ping.
type PongMessage struct {
	Type string `json:"type"`
}

// NewPongMessage builds the ping response.
func NewPongMessage() PongMessage {
	return PongMessage{Type: MessageTypePong}
}
