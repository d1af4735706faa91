package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrPlaylistNotFound   = fmt.Errorf("playlist not found")
	ErrRunNotFound        = fmt.Errorf("run not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")

	// Per-song pipeline errors. These never abort a run.
	ErrMalformedEntry       = fmt.Errorf("malformed playlist entry")
	ErrUnresolvedLink       = fmt.Errorf("no acceptable source found")
	ErrRateLimited          = fmt.Errorf("rate limited by provider")
	ErrAcquisitionExhausted = fmt.Errorf("download attempts exhausted")
	ErrTagWrite             = fmt.Errorf("failed to write tags")
)
