package domain

import "errors"

var (
	// ErrUpstream marks failures talking to the USGS API: transport errors,
	// non-200 responses, and bodies that are not a FeatureCollection.
	ErrUpstream = errors.New("upstream api")

	// ErrStorage marks object store failures (auth, missing bucket, quota).
	ErrStorage = errors.New("object storage")

	// ErrObjectNotFound is returned when an archived key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrMalformedDocument marks an archived object that cannot be flattened.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrMagnitudeNotNumeric marks magnitude text that cannot be cast to a float.
	ErrMagnitudeNotNumeric = errors.New("magnitude is not numeric")

	// ErrInvalidWindow marks a zero or inverted query window.
	ErrInvalidWindow = errors.New("invalid window")
)

// IsPermanent reports whether err comes from parsing or coercing stored data.
// Rerunning the same input reproduces these failures, so retrying is pointless.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedDocument) ||
		errors.Is(err, ErrMagnitudeNotNumeric) ||
		errors.Is(err, ErrInvalidWindow)
}
