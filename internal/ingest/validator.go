package ingest

// Reason explains why a submission was not accepted.
type Reason string

// Rejection reasons reported to submitters.
const (
	ReasonUnknownLocation    Reason = "unknownLocation"
	ReasonOutOfRange         Reason = "outOfRange"
	ReasonStorageFailure     Reason = "storageFailure"
	ReasonUnsupportedMessage Reason = "unsupportedMessage"
)

// Accepted temperatures lie strictly between these bounds, in °C.
const (
	MinTemperature = -101.0
	MaxTemperature = 101.0
)

// LocationChecker reports whether a location id is registered.
type LocationChecker interface {
	Exists(id int) bool
}

// Verdict is the outcome of Validate. On success LocationID and Temperature
// hold the normalized values.
type Verdict struct {
	Reason      Reason
	Temperature float64
	LocationID  int
	OK          bool
}

// Validate checks c against the registry and the temperature bounds. Both
// rules are always evaluated; an unknown location takes precedence over an
// out-of-range temperature.
func Validate(locations LocationChecker, c Candidate) Verdict {
	id, integral := c.LocationID.Int()
	known := integral && locations.Exists(id)

	t := c.Temperature.Value
	inRange := c.Temperature.Finite() && t > MinTemperature && t < MaxTemperature

	switch {
	case !known:
		return Verdict{Reason: ReasonUnknownLocation}
	case !inRange:
		return Verdict{Reason: ReasonOutOfRange}
	default:
		return Verdict{OK: true, LocationID: id, Temperature: t}
	}
}
