package message

import (
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		RFC:          "XAXX010101000",
		Authenticate: Endpoint{URL: "https://auth.example/svc", Action: "urn:auth"},
		Solicit:      Endpoint{URL: "https://solicit.example/svc", Action: "urn:solicit"},
		Verify:       Endpoint{URL: "https://verify.example/svc", Action: "urn:verify"},
		Download:     Endpoint{URL: "https://download.example/svc", Action: "urn:download"},
	}
}

func testParams(t *testing.T) RequestParameters {
	t.Helper()
	from, err := ParseDate("2025-01-01")
	require.NoError(t, err)
	to, err := ParseDate("2025-01-31")
	require.NoError(t, err)
	return RequestParameters{Type: RequestTypeCFDI, DateFrom: from, DateTo: to}
}

func TestRequestParameters_Variant(t *testing.T) {
	tests := []struct {
		name   string
		params RequestParameters
		want   SolicitVariant
	}{
		{"default received", RequestParameters{}, VariantReceived},
		{"receiver only", RequestParameters{ReceiverID: "AAA010101AAA"}, VariantReceived},
		{"issued by doc type", RequestParameters{DocumentType: "E"}, VariantIssued},
		{"issued by lowercase doc type", RequestParameters{DocumentType: "e"}, VariantIssued},
		{"issued by issuer", RequestParameters{IssuerID: "AAA010101AAA"}, VariantIssued},
		{"folio wins over issuer", RequestParameters{Folio: "F-1", IssuerID: "AAA010101AAA"}, VariantFolio},
		{"other doc type", RequestParameters{DocumentType: "I"}, VariantReceived},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.params.Variant())
		})
	}
}

func TestRequestParameters_Validate(t *testing.T) {
	p := testParams(t)
	require.NoError(t, p.Validate())

	bad := p
	bad.Type = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParameters)

	bad = p
	bad.DateTo = p.DateFrom.AddDate(0, 0, -1)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParameters)

	bad = p
	bad.IssuerID = "AAA,BBB"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParameters)

	bad = p
	bad.DateFrom = time.Time{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParameters)
}

func TestBuildAuthenticate(t *testing.T) {
	b := NewBuilder(testSettings())
	b.newID = func() string { return "fixed" }
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	env := b.BuildAuthenticate(now)
	assert.Equal(t, OpAuthenticate, env.Operation)
	assert.Equal(t, ProfileTimestamp, env.Profile)
	assert.Equal(t, "https://auth.example/svc", env.URL)
	assert.Equal(t, "urn:auth", env.Action)
	assert.Equal(t, TimestampID, env.TargetID)
	assert.Equal(t, "uuid-fixed", env.TokenID)

	root := env.Doc.Root()
	require.NotNil(t, root)
	ts := root.FindElement("./Header/Security/Timestamp")
	require.NotNil(t, ts)
	assert.Equal(t, "TS", ts.SelectAttrValue("u:Id", ""))
	assert.Equal(t, "2025-03-01T10:00:00Z", ts.SelectElement("Created").Text())
	assert.Equal(t, "2025-03-01T10:05:00Z", ts.SelectElement("Expires").Text())

	bst := root.FindElement("./Header/Security/BinarySecurityToken")
	require.NotNil(t, bst)
	assert.Equal(t, "uuid-fixed", bst.SelectAttrValue("u:Id", ""))
	assert.Equal(t, ValueTypeX509v3, bst.SelectAttrValue("ValueType", ""))

	auth := root.FindElement("./Body/Autentica")
	require.NotNil(t, auth)
	assert.Equal(t, NSAuth, auth.SelectAttrValue("xmlns", ""))
}

func TestBuildSolicit_ReceivedWithFilters(t *testing.T) {
	b := NewBuilder(testSettings())
	p := testParams(t)
	p.ReceiverID = "XEXX010101000"
	p.DocumentType = "I"

	env, err := b.BuildSolicit(p)
	require.NoError(t, err)
	assert.Equal(t, string(VariantReceived), env.Name)
	assert.Equal(t, "urn:solicit/SolicitaDescargaRecibidos", env.Action)
	assert.Equal(t, SolicitID, env.TargetID)
	assert.Equal(t, ProfileEnveloped, env.Profile)

	sol := env.Doc.Root().FindElement("./Body/SolicitaDescargaRecibidos/solicitud")
	require.NotNil(t, sol)
	assert.Equal(t, "Solicitud", sol.SelectAttrValue("Id", ""))
	assert.Equal(t, "XAXX010101000", sol.SelectAttrValue("RfcSolicitante", ""))
	assert.Equal(t, "2025-01-01T00:00:00", sol.SelectAttrValue("FechaInicial", ""))
	assert.Equal(t, "2025-01-31T23:59:59", sol.SelectAttrValue("FechaFinal", ""))
	assert.Equal(t, "CFDI", sol.SelectAttrValue("TipoSolicitud", ""))
	assert.Equal(t, "I", sol.SelectAttrValue("TipoComp", ""))
	assert.Equal(t, "XEXX010101000", sol.SelectAttrValue("RfcReceptor", ""))
	assert.Nil(t, sol.SelectAttr("RfcEmisor"))

	header := env.Doc.Root().SelectElement("Header")
	require.NotNil(t, header)
	assert.Equal(t, env.Action, header.SelectElement("Action").Text())
	assert.Equal(t, "https://solicit.example/svc", header.SelectElement("To").Text())
	assert.Contains(t, header.SelectElement("MessageID").Text(), "uuid:")
}

func TestBuildSolicit_FiltersOmittedForOtherTypes(t *testing.T) {
	b := NewBuilder(testSettings())
	p := testParams(t)
	p.Type = "Retencion"
	p.IssuerID = "AAA010101AAA"
	p.DocumentType = "E"

	env, err := b.BuildSolicit(p)
	require.NoError(t, err)
	assert.Equal(t, string(VariantIssued), env.Name)

	sol := env.Doc.Root().FindElement("./Body/SolicitaDescargaEmitidos/solicitud")
	require.NotNil(t, sol)
	assert.Nil(t, sol.SelectAttr("RfcEmisor"))
	assert.Nil(t, sol.SelectAttr("TipoComp"))
}

func TestBuildSolicit_Folio(t *testing.T) {
	b := NewBuilder(testSettings())
	p := testParams(t)
	p.Type = RequestTypeMetadata
	p.Folio = "ABC-123"

	env, err := b.BuildSolicit(p)
	require.NoError(t, err)
	assert.Equal(t, string(VariantFolio), env.Name)
	sol := env.Doc.Root().FindElement("./Body/SolicitaDescargaFolio/solicitud")
	require.NotNil(t, sol)
	assert.Equal(t, "ABC-123", sol.SelectAttrValue("Folio", ""))
}

func TestBuildSolicit_InvalidParams(t *testing.T) {
	b := NewBuilder(testSettings())
	_, err := b.BuildSolicit(RequestParameters{})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestBuildVerify(t *testing.T) {
	b := NewBuilder(testSettings())
	env, err := b.BuildVerify("REQ-1")
	require.NoError(t, err)
	assert.Empty(t, env.TargetID)
	assert.Equal(t, "solicitud", env.TargetTag)
	assert.Equal(t, "urn:verify", env.Action)

	sol := env.Doc.Root().FindElement("./Body/VerificaSolicitudDescarga/solicitud")
	require.NotNil(t, sol)
	assert.Equal(t, "REQ-1", sol.SelectAttrValue("IdSolicitud", ""))
	assert.Equal(t, "XAXX010101000", sol.SelectAttrValue("RfcSolicitante", ""))

	_, err = b.BuildVerify("")
	assert.Error(t, err)
}

func TestBuildDownload(t *testing.T) {
	b := NewBuilder(testSettings())
	env, err := b.BuildDownload("REQ-1_01")
	require.NoError(t, err)
	assert.Equal(t, DownloadID, env.TargetID)
	assert.Equal(t, "https://download.example/svc", env.URL)

	pet := env.Doc.Root().FindElement("./Body/PeticionDescargaMasivaTercerosEntrada/peticionDescarga")
	require.NotNil(t, pet)
	assert.Equal(t, "_0", pet.SelectAttrValue("Id", ""))
	assert.Equal(t, "REQ-1_01", pet.SelectAttrValue("IdPaquete", ""))
	assert.Nil(t, env.Doc.Root().SelectElement("Header"))
}

func TestBuild_SerializesWithDeclaration(t *testing.T) {
	b := NewBuilder(testSettings())
	env, err := b.BuildDownload("P1")
	require.NoError(t, err)

	s, err := env.Doc.WriteToString()
	require.NoError(t, err)
	assert.Contains(t, s, `<?xml version="1.0" encoding="utf-8"?>`)

	parsed := etree.NewDocument()
	require.NoError(t, parsed.ReadFromString(s))
	assert.Equal(t, "Envelope", parsed.Root().Tag)
}
