// Pelorus - Real-time AIS Vessel Tracking and Tile Streaming
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/pelorus

package models

// Upstream wire format for the aisstream.io feed. Field names and
// casing follow the provider's JSON exactly, including the
// inconsistent casing between PositionReport (PascalCase) and
// MetaData (snake/lower case).

// SubscriptionMessage is the first frame sent after the upstream
// WebSocket opens. BoundingBoxes is omitted entirely when no filter is
// configured; the provider treats an empty list as "nothing".
type SubscriptionMessage struct {
	APIKey             string         `json:"APIKey"`
	BoundingBoxes      [][][2]float64 `json:"BoundingBoxes,omitempty"`
	FilterMessageTypes []string       `json:"FilterMessageTypes"`
}

// StreamMessage is one inbound frame from the provider. Only
// PositionReport messages are subscribed; other message types decode
// with a nil PositionReport and are dropped by the parser.
type StreamMessage struct {
	MessageType string        `json:"MessageType"`
	Message     StreamPayload `json:"Message"`
	MetaData    *MetaData     `json:"MetaData"`
}

// StreamPayload holds the per-type message body.
type StreamPayload struct {
	PositionReport *PositionReport `json:"PositionReport"`
}

// PositionReport carries the decoded AIS position fields. Every field
// is a pointer: transmitters omit fields freely, and the parser falls
// back to MetaData for the ones that have a counterpart there.
type PositionReport struct {
	UserID      *uint64  `json:"UserID"`
	Latitude    *float64 `json:"Latitude"`
	Longitude   *float64 `json:"Longitude"`
	Cog         *float64 `json:"Cog"`
	Sog         *float64 `json:"Sog"`
	TrueHeading *int     `json:"TrueHeading"`
}

// MetaData is the provider-side envelope accompanying every message.
// It duplicates position and identity with different precision and
// casing; the parser uses it to fill gaps in the PositionReport.
type MetaData struct {
	MMSI      *uint64  `json:"MMSI"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	TimeUTC   string   `json:"time_utc"`
}
