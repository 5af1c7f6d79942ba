package message

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// DateLayout is the calendar date format used for request date ranges
const DateLayout = "2006-01-02"

// Request type discriminators accepted by the solicit operation
const (
	RequestTypeCFDI     = "CFDI"
	RequestTypeMetadata = "Metadata"
)

// IssuedDocumentType is the document-type marker that selects the issued-documents variant
const IssuedDocumentType = "E"

// Operation identifies one of the four service calls
type Operation int

const (
	OpAuthenticate Operation = iota
	OpSolicit
	OpVerify
	OpDownload
)

func (o Operation) String() string {
	switch o {
	case OpAuthenticate:
		return "authenticate"
	case OpSolicit:
		return "solicit"
	case OpVerify:
		return "verify"
	case OpDownload:
		return "download"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// SolicitVariant selects which solicit sub-operation is emitted
type SolicitVariant string

const (
	VariantReceived SolicitVariant = "SolicitaDescargaRecibidos"
	VariantIssued   SolicitVariant = "SolicitaDescargaEmitidos"
	VariantFolio    SolicitVariant = "SolicitaDescargaFolio"
)

// Profile is the signature profile an envelope requires
type Profile int

const (
	// ProfileTimestamp signs the WS-Security timestamp and references a
	// BinarySecurityToken from KeyInfo
	ProfileTimestamp Profile = iota
	// ProfileEnveloped signs the request element with an enveloped signature
	// and embeds the certificate in KeyInfo
	ProfileEnveloped
)

func (p Profile) String() string {
	if p == ProfileTimestamp {
		return "timestamp"
	}
	return "enveloped"
}

// ErrInvalidParameters is returned when request parameters fail validation
var ErrInvalidParameters = errors.New("invalid request parameters")

// RequestParameters describes one bulk export request
type RequestParameters struct {
	Type         string
	DateFrom     time.Time
	DateTo       time.Time
	DocumentType string
	IssuerID     string
	ReceiverID   string
	Folio        string
}

// Validate checks the parameters before they reach the wire or the ledger
func (p RequestParameters) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: request type is required", ErrInvalidParameters)
	}
	if p.DateFrom.IsZero() || p.DateTo.IsZero() {
		return fmt.Errorf("%w: date range is required", ErrInvalidParameters)
	}
	if p.DateTo.Before(p.DateFrom) {
		return fmt.Errorf("%w: date_to %s is before date_from %s",
			ErrInvalidParameters, p.DateTo.Format(DateLayout), p.DateFrom.Format(DateLayout))
	}
	for name, v := range map[string]string{
		"type":          p.Type,
		"document type": p.DocumentType,
		"issuer id":     p.IssuerID,
		"receiver id":   p.ReceiverID,
		"folio":         p.Folio,
	} {
		if strings.ContainsAny(v, ",\r\n") {
			return fmt.Errorf("%w: %s contains a reserved character", ErrInvalidParameters, name)
		}
	}
	return nil
}

// Filterable reports whether attribute filters apply to this request type
func (p RequestParameters) Filterable() bool {
	return p.Type == RequestTypeCFDI || p.Type == RequestTypeMetadata
}

// Variant returns the solicit sub-operation for these parameters.
// Folio wins over the issued-documents selection, which wins over the default.
func (p RequestParameters) Variant() SolicitVariant {
	switch {
	case p.Folio != "":
		return VariantFolio
	case strings.EqualFold(p.DocumentType, IssuedDocumentType) || p.IssuerID != "":
		return VariantIssued
	default:
		return VariantReceived
	}
}

// DateFromString renders the start date as stored in the ledger
func (p RequestParameters) DateFromString() string {
	return p.DateFrom.Format(DateLayout)
}

// DateToString renders the end date as stored in the ledger
func (p RequestParameters) DateToString() string {
	return p.DateTo.Format(DateLayout)
}

// ParseDate parses a calendar date in DateLayout
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// Envelope is a built, unsigned request document together with what the
// signature and transport stages need to know about it
type Envelope struct {
	Operation Operation
	// Name is the SOAP operation element name, used to select the response schema
	Name   string
	URL    string
	Action string
	Doc    *etree.Document

	Profile Profile
	// TargetID is the Id of the element the signature references.
	// Empty means the reference covers the whole document.
	TargetID string
	// TargetTag is the local name of the signable element
	TargetTag string
	// TokenID is the wsu:Id of the BinarySecurityToken (timestamp profile only)
	TokenID string
}
