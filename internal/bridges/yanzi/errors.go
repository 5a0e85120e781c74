package yanzi

import "errors"

// Domain-specific errors for the Yanzi bridge.
// Callers should use errors.Is() to check for these conditions.
var (
	// ErrInvalidLocation is returned when a location id is not visible to
	// the authenticated account.
	ErrInvalidLocation = errors.New("yanzi: invalid location")

	// ErrNoResult is returned when a GraphQL response carries no result.
	ErrNoResult = errors.New("yanzi: graphql response has no result")

	// ErrMultiPage is returned when the unit listing spans more than one
	// page. Paging is not supported.
	ErrMultiPage = errors.New("yanzi: unit listing has more than one page")

	// ErrNoCredentials is returned when neither login credentials nor a
	// client certificate are configured.
	ErrNoCredentials = errors.New("yanzi: no credentials configured")

	// ErrAuthenticationFailed is returned when Cirrus answers a login
	// without issuing a session id.
	ErrAuthenticationFailed = errors.New("yanzi: authentication failed")

	// ErrUnknownSource is returned for a key that is not in the registry.
	ErrUnknownSource = errors.New("yanzi: unknown data source")

	// ErrInvalidKey is returned when a data source key does not have five
	// segments.
	ErrInvalidKey = errors.New("yanzi: invalid data source key")

	// ErrInvalidStatistics is returned when a statistics sample does not
	// hold a 32 byte hex record.
	ErrInvalidStatistics = errors.New("yanzi: invalid statistics payload")
)
