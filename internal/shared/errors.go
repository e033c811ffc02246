package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Remote errors
	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrNotFound           = fmt.Errorf("not found")
	ErrTransient          = fmt.Errorf("transient remote failure")
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrCircuitOpen        = fmt.Errorf("circuit breaker open")

	// Watch-state errors
	ErrInvalidDuration  = fmt.Errorf("invalid duration")
	ErrUnresolvable     = fmt.Errorf("unresolvable identity")
	ErrMissingSnapshot  = fmt.Errorf("user missing from snapshot")
	ErrMalformedHistory = fmt.Errorf("malformed watch history")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
