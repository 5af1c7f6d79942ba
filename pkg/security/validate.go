package security

import (
	"crypto/x509"
	"fmt"

	"github.com/leifj/signedxml"
)

// Validate checks the signature and reference digests of a signed document.
// cert is required for the timestamp profile, whose KeyInfo only points at
// the BinarySecurityToken.
func Validate(signed []byte, cert *x509.Certificate) error {
	validator, err := signedxml.NewValidator(string(signed))
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	if cert != nil {
		validator.Certificates = append(validator.Certificates, *cert)
	}
	validator.SetReferenceIDAttribute(ReferenceIDAttribute)

	if _, err := validator.ValidateReferences(); err != nil {
		return fmt.Errorf("signature validation failed: %w", err)
	}
	return nil
}
