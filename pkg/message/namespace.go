package message

// XML namespaces used by the bulk download service
const (
	NSSOAP       = "http://schemas.xmlsoap.org/soap/envelope/"
	NSWSU        = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NSWSSE       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NSAddressing = "http://www.w3.org/2005/08/addressing"
	NSDSig       = "http://www.w3.org/2000/09/xmldsig#"

	// NSAuth is the authentication service namespace. It differs from
	// NSDescarga on purpose; the authority publishes them that way.
	NSAuth     = "http://DescargaMasivaTerceros.gob.mx"
	NSDescarga = "http://DescargaMasivaTerceros.sat.gob.mx"
)

// WS-Security token profile URIs
const (
	ValueTypeX509v3    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	EncodingTypeBase64 = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Fixed identifiers the signature stage references
const (
	TimestampID = "TS"
	SolicitID   = "Solicitud"
	DownloadID  = "_0"
)

// Operation element names
const (
	NameAuthenticate = "Autentica"
	NameVerify       = "VerificaSolicitudDescarga"
	NameDownload     = "PeticionDescargaMasivaTercerosEntrada"
)
