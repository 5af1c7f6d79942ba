package response

import (
	"errors"
	"fmt"
)

// ErrMissingResult is matched by every MissingResultError
var ErrMissingResult = errors.New("expected result element missing")

// ProtocolFault is a SOAP fault returned by the service
type ProtocolFault struct {
	Code    string
	Message string
}

func (e *ProtocolFault) Error() string {
	return fmt.Sprintf("SOAP fault %s: %s", e.Code, e.Message)
}

// BusinessError is a well-formed result whose CodEstatus is not success
type BusinessError struct {
	Operation string
	Code      string
	Message   string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s rejected with CodEstatus %s: %s", e.Operation, e.Code, e.Message)
}

// MissingResultError is returned when the response lacks the element the
// operation's schema requires
type MissingResultError struct {
	Element string
}

func (e *MissingResultError) Error() string {
	return fmt.Sprintf("response has no %s", e.Element)
}

func (e *MissingResultError) Is(target error) bool {
	return target == ErrMissingResult
}
