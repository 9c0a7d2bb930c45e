package browser

import (
	"errors"
)

var (
	ErrUnavailable    = errors.New("browser runtime unavailable")
	ErrSessionClosed  = errors.New("browser session closed")
	ErrUnknownElement = errors.New("no element with that index")
	ErrInvalidAction  = errors.New("invalid browser action")
)

// IsAgentRecoverable reports whether err describes a bad action the agent
// can correct on its next step, as opposed to a broken browser.
func IsAgentRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownElement) || errors.Is(err, ErrInvalidAction)
}
