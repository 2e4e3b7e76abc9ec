// Package api defines the tempglobe gRPC contract: message types, the
// service descriptor, a JSON codec and a client.
package api

import (
	"encoding/json"
	"strconv"
)

// Measurement is a stored temperature reading.
type Measurement struct {
	ID          int64   `json:"id"`
	LocationID  int     `json:"locationId"`
	Temperature float64 `json:"temperature"`
	// Timestamp is in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

// Location is a city that accepts submissions.
type Location struct {
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	Coordinates    [2]float64 `json:"coordinates"`
	ID             int        `json:"id"`
	RenderHint     int        `json:"renderHint"`
	UTCOffsetHours int        `json:"utcOffsetHours"`
}

// SubmitRequest carries one reading. Each field holds the raw JSON value
// sent by the client: the server accepts numbers and numeric strings and
// rejects absent or malformed fields.
type SubmitRequest struct {
	LocationID  json.RawMessage `json:"id,omitempty"`
	Temperature json.RawMessage `json:"temperature,omitempty"`
}

// NewSubmitRequest builds a request from typed values.
func NewSubmitRequest(locationID int, temperature float64) *SubmitRequest {
	return &SubmitRequest{
		LocationID:  json.RawMessage(strconv.Itoa(locationID)),
		Temperature: json.RawMessage(strconv.FormatFloat(temperature, 'g', -1, 64)),
	}
}

// SubmitResponse mirrors the websocket acknowledgement.
type SubmitResponse struct {
	Measurement *Measurement `json:"measurement,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Success     bool         `json:"success"`
}

// SnapshotResponse holds the registry and the recent measurements.
type SnapshotResponse struct {
	Locations    []Location    `json:"locations"`
	Measurements []Measurement `json:"measurements"`
}
