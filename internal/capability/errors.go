package capability

import "fmt"

// Simulation rejection codes. The set is closed: anything a conforming
// simulation emits outside it is folded into ErrCodeInternal.
const (
	ErrCodeBadRequest        = "E_BAD_REQUEST"
	ErrCodeNotFound          = "E_NOT_FOUND"
	ErrCodeInvalidPosition   = "E_INVALID_POSITION"
	ErrCodeInvalidDirection  = "E_INVALID_DIRECTION"
	ErrCodeNoResource        = "E_NO_RESOURCE"
	ErrCodeInventoryFull     = "E_INVENTORY_FULL"
	ErrCodeInventoryEmpty    = "E_INVENTORY_EMPTY"
	ErrCodeBusy              = "E_BUSY"
	ErrCodeUnknownCapability = "E_UNKNOWN_CAPABILITY"
	ErrCodeInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrCodeBadRequest:        {},
	ErrCodeNotFound:          {},
	ErrCodeInvalidPosition:   {},
	ErrCodeInvalidDirection:  {},
	ErrCodeNoResource:        {},
	ErrCodeInventoryFull:     {},
	ErrCodeInventoryEmpty:    {},
	ErrCodeBusy:              {},
	ErrCodeUnknownCapability: {},
	ErrCodeInternal:          {},
}

func IsKnownCode(code string) bool {
	_, ok := knownCodes[code]
	return ok
}

// CapabilityError is a rejection from the simulation. The calling turn
// sees it; the session survives it.
type CapabilityError struct {
	Code    string
	Message string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newCapabilityError folds unknown codes into ErrCodeInternal so callers
// can rely on the closed set.
func newCapabilityError(code, message string) *CapabilityError {
	if !IsKnownCode(code) {
		if code == "" {
			code = ErrCodeInternal
		} else {
			message = fmt.Sprintf("unrecognized code %s: %s", code, message)
			code = ErrCodeInternal
		}
	}
	return &CapabilityError{Code: code, Message: message}
}

// ValidationError reports arguments rejected before transmission.
type ValidationError struct {
	Capability string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid arguments: %s", e.Capability, e.Reason)
}
