package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrCertificateExpired is returned when the signing certificate has expired
	ErrCertificateExpired = errors.New("certificate has expired")
	// ErrCertificateNotYetValid is returned when the signing certificate is not yet valid
	ErrCertificateNotYetValid = errors.New("certificate is not yet valid")
	// ErrKeyMismatch is returned when the private key does not belong to the certificate
	ErrKeyMismatch = errors.New("private key does not match certificate")
	// ErrUnsupportedKey is returned for non-RSA keys; the service only accepts RSA
	ErrUnsupportedKey = errors.New("unsupported private key type")
)

// AmbiguousInputError is returned when an input file cannot be located
// unambiguously by its extension
type AmbiguousInputError struct {
	Dir     string
	Ext     string
	Matches []string
}

func (e *AmbiguousInputError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no file with extension %s in %s", e.Ext, e.Dir)
	}
	return fmt.Sprintf("expected exactly one file with extension %s in %s, found %d: %v",
		e.Ext, e.Dir, len(e.Matches), e.Matches)
}

// CertConversionError is returned when a step of the materialization
// pipeline fails. Step names the failing stage.
type CertConversionError struct {
	Step string
	Err  error
}

func (e *CertConversionError) Error() string {
	return fmt.Sprintf("certificate conversion failed at %s: %v", e.Step, e.Err)
}

func (e *CertConversionError) Unwrap() error {
	return e.Err
}
