// Package ingest validates temperature submissions, persists accepted ones and
// fans them out to every connected client.
package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexNumber decodes a JSON number or a string holding a decimal number.
// Any other JSON value leaves it invalid instead of failing the decode.
type FlexNumber struct {
	Value float64
	Valid bool
}

// Number returns a valid FlexNumber holding v.
func Number(v float64) FlexNumber {
	return FlexNumber{Value: v, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler. It never returns an error.
func (n *FlexNumber) UnmarshalJSON(b []byte) error {
	*n = FlexNumber{}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	switch t := v.(type) {
	case float64:
		*n = Number(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			*n = Number(f)
		}
	}

	return nil
}

// MarshalJSON implements json.Marshaler. Invalid values encode as null.
func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Valid || math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Finite reports whether n holds a finite value.
func (n FlexNumber) Finite() bool {
	return n.Valid && !math.IsNaN(n.Value) && !math.IsInf(n.Value, 0)
}

// Int returns n as an int if it holds an integral value in int32 range.
func (n FlexNumber) Int() (int, bool) {
	if !n.Finite() || n.Value != math.Trunc(n.Value) {
		return 0, false
	}
	if n.Value < math.MinInt32 || n.Value > math.MaxInt32 {
		return 0, false
	}
	return int(n.Value), true
}

// Candidate is an unvalidated submission as received from a client.
type Candidate struct {
	LocationID  FlexNumber `json:"id"`
	Temperature FlexNumber `json:"temperature"`
}

// NewCandidate builds a Candidate from already-typed values.
func NewCandidate(locationID int, temperature float64) Candidate {
	return Candidate{
		LocationID:  Number(float64(locationID)),
		Temperature: Number(temperature),
	}
}

// DecodeCandidate parses raw into a Candidate. Payloads that are not JSON
// objects produce an empty Candidate, which fails validation.
func DecodeCandidate(raw []byte) Candidate {
	var c Candidate
	if err := json.Unmarshal(raw, &c); err != nil {
		return Candidate{}
	}
	return c
}

// DecodeFields builds a Candidate from the raw JSON of each field. A nil or
// malformed field leaves that part of the Candidate invalid.
func DecodeFields(locationID, temperature []byte) Candidate {
	var c Candidate
	_ = c.LocationID.UnmarshalJSON(locationID)
	_ = c.Temperature.UnmarshalJSON(temperature)
	return c
}
