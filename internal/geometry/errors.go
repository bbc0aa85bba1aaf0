package geometry

import "fmt"

// Reason classifies why a raw feature could not be turned into a polygon
type Reason string

const (
	ReasonTooFewPoints     Reason = "too_few_points"
	ReasonUnrepairable     Reason = "unrepairable"
	ReasonEmpty            Reason = "empty"
	ReasonNoPolygonalParts Reason = "no_polygonal_parts"
	ReasonUnsupportedType  Reason = "unsupported_type"
)

// ParseError reports a feature dropped by the parser
type ParseError struct {
	SourceID int64
	Reason   Reason
	Err      error // Underlying geometry failure, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feature %d: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("feature %d: %s", e.SourceID, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// OpError is a failed GEOS operation. The bindings panic on GEOS errors;
// the panic is recovered and carried here.
type OpError struct {
	Op    string
	Cause interface{}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("geos %s failed: %v", e.Op, e.Cause)
}

// Unwrap exposes the panic value when it was an error
func (e *OpError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
