package message

import (
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// TimestampValidity is how long an authentication timestamp stays valid
const TimestampValidity = 5 * time.Minute

const timestampLayout = "2006-01-02T15:04:05Z"

// Endpoint is a service URL plus its SOAP action
type Endpoint struct {
	URL    string
	Action string
}

// Settings is the immutable input every envelope is built from
type Settings struct {
	// RFC is the requester's tax identifier
	RFC          string
	Authenticate Endpoint
	// Solicit.Action is the service action base; the variant name is appended
	Solicit  Endpoint
	Verify   Endpoint
	Download Endpoint
}

// Builder constructs the operation-specific request documents
type Builder struct {
	settings Settings
	newID    func() string
}

// NewBuilder creates a builder over fixed settings
func NewBuilder(settings Settings) *Builder {
	return &Builder{
		settings: settings,
		newID:    func() string { return uuid.New().String() },
	}
}

// BuildAuthenticate creates the authentication request. The
// BinarySecurityToken is left empty; the signer embeds the certificate.
func (b *Builder) BuildAuthenticate(now time.Time) *Envelope {
	doc := newDocument()

	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", NSSOAP)
	env.CreateAttr("xmlns:u", NSWSU)
	env.CreateAttr("xmlns:o", NSWSSE)

	header := env.CreateElement("s:Header")
	security := header.CreateElement("o:Security")
	security.CreateAttr("s:mustUnderstand", "1")

	created := now.UTC()
	ts := security.CreateElement("u:Timestamp")
	ts.CreateAttr("xmlns:u", NSWSU)
	ts.CreateAttr("u:Id", TimestampID)
	ts.CreateElement("u:Created").SetText(created.Format(timestampLayout))
	ts.CreateElement("u:Expires").SetText(created.Add(TimestampValidity).Format(timestampLayout))

	tokenID := "uuid-" + b.newID()
	bst := security.CreateElement("o:BinarySecurityToken")
	bst.CreateAttr("u:Id", tokenID)
	bst.CreateAttr("ValueType", ValueTypeX509v3)
	bst.CreateAttr("EncodingType", EncodingTypeBase64)

	body := env.CreateElement("s:Body")
	auth := body.CreateElement(NameAuthenticate)
	auth.CreateAttr("xmlns", NSAuth)

	return &Envelope{
		Operation: OpAuthenticate,
		Name:      NameAuthenticate,
		URL:       b.settings.Authenticate.URL,
		Action:    b.settings.Authenticate.Action,
		Doc:       doc,
		Profile:   ProfileTimestamp,
		TargetID:  TimestampID,
		TargetTag: "Timestamp",
		TokenID:   tokenID,
	}
}

// BuildSolicit creates the bulk export request for params
func (b *Builder) BuildSolicit(params RequestParameters) (*Envelope, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	variant := params.Variant()
	action := b.settings.Solicit.Action + "/" + string(variant)

	doc := newDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", NSSOAP)
	env.CreateAttr("xmlns:wsa", NSAddressing)
	env.CreateAttr("xmlns:ds", NSDSig)
	env.CreateAttr("xmlns:des", NSDescarga)

	header := env.CreateElement("s:Header")
	header.CreateElement("wsa:Action").SetText(action)
	header.CreateElement("wsa:To").SetText(b.settings.Solicit.URL)
	header.CreateElement("wsa:MessageID").SetText("uuid:" + b.newID())

	body := env.CreateElement("s:Body")
	op := body.CreateElement("des:" + string(variant))

	sol := op.CreateElement("des:solicitud")
	sol.CreateAttr("xmlns:des", NSDescarga)
	sol.CreateAttr("Id", SolicitID)
	sol.CreateAttr("RfcSolicitante", b.settings.RFC)
	sol.CreateAttr("FechaInicial", params.DateFromString()+"T00:00:00")
	sol.CreateAttr("FechaFinal", params.DateToString()+"T23:59:59")
	sol.CreateAttr("TipoSolicitud", params.Type)

	if params.Filterable() {
		setOptional(sol, "TipoComp", params.DocumentType)
		setOptional(sol, "RfcEmisor", params.IssuerID)
		setOptional(sol, "RfcReceptor", params.ReceiverID)
		setOptional(sol, "Folio", params.Folio)
	}

	return &Envelope{
		Operation: OpSolicit,
		Name:      string(variant),
		URL:       b.settings.Solicit.URL,
		Action:    action,
		Doc:       doc,
		Profile:   ProfileEnveloped,
		TargetID:  SolicitID,
		TargetTag: "solicitud",
	}, nil
}

// BuildVerify creates the status request for a submitted export
func (b *Builder) BuildVerify(requestID string) (*Envelope, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request id is required")
	}

	doc := newDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", NSSOAP)
	env.CreateAttr("xmlns:ds", NSDSig)
	env.CreateAttr("xmlns:des", NSDescarga)

	env.CreateElement("s:Header")
	body := env.CreateElement("s:Body")
	verify := body.CreateElement("des:" + NameVerify)

	sol := verify.CreateElement("des:solicitud")
	sol.CreateAttr("IdSolicitud", requestID)
	sol.CreateAttr("RfcSolicitante", b.settings.RFC)

	return &Envelope{
		Operation: OpVerify,
		Name:      NameVerify,
		URL:       b.settings.Verify.URL,
		Action:    b.settings.Verify.Action,
		Doc:       doc,
		Profile:   ProfileEnveloped,
		TargetTag: "solicitud",
	}, nil
}

// BuildDownload creates the retrieval request for one package
func (b *Builder) BuildDownload(packageID string) (*Envelope, error) {
	if packageID == "" {
		return nil, fmt.Errorf("package id is required")
	}

	doc := newDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", NSSOAP)
	env.CreateAttr("xmlns:des", NSDescarga)
	env.CreateAttr("xmlns:ds", NSDSig)

	body := env.CreateElement("s:Body")
	entrada := body.CreateElement("des:" + NameDownload)

	pet := entrada.CreateElement("des:peticionDescarga")
	pet.CreateAttr("xmlns:des", NSDescarga)
	pet.CreateAttr("Id", DownloadID)
	pet.CreateAttr("RfcSolicitante", b.settings.RFC)
	pet.CreateAttr("IdPaquete", packageID)

	return &Envelope{
		Operation: OpDownload,
		Name:      NameDownload,
		URL:       b.settings.Download.URL,
		Action:    b.settings.Download.Action,
		Doc:       doc,
		Profile:   ProfileEnveloped,
		TargetID:  DownloadID,
		TargetTag: "peticionDescarga",
	}, nil
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	return doc
}

func setOptional(el *etree.Element, key, value string) {
	if value != "" {
		el.CreateAttr(key, value)
	}
}
