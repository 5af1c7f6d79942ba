package response

import "github.com/sirosfoundation/go-satdescarga/pkg/message"

// StatusSuccess is the CodEstatus of an accepted call
const StatusSuccess = "5000"

// Schema describes where an operation's result lives in the response
type Schema struct {
	// Result is the local name of the result element
	Result string
	// Fields are attributes read from the result element
	Fields []string
	// Text marks results carried as element text instead of attributes
	Text bool
	// Children is the local name of repeated child elements to collect
	Children string
	// Payload is the local name of an element holding base64 content
	Payload string
}

var schemas = map[string]Schema{
	message.NameAuthenticate: {
		Result: "AutenticaResult",
		Text:   true,
	},
	string(message.VariantReceived): solicitSchema(message.VariantReceived),
	string(message.VariantIssued):   solicitSchema(message.VariantIssued),
	string(message.VariantFolio):    solicitSchema(message.VariantFolio),
	message.NameVerify: {
		Result:   "VerificaSolicitudDescargaResult",
		Fields:   []string{"CodEstatus", "EstadoSolicitud", "CodigoEstadoSolicitud", "NumeroCFDIs", "Mensaje"},
		Children: "IdsPaquetes",
	},
	message.NameDownload: {
		Result:  "respuesta",
		Fields:  []string{"CodEstatus", "Mensaje"},
		Payload: "Paquete",
	},
}

func solicitSchema(v message.SolicitVariant) Schema {
	return Schema{
		Result: string(v) + "Result",
		Fields: []string{"CodEstatus", "Mensaje", "IdSolicitud"},
	}
}

// SchemaFor returns the schema of an operation element name
func SchemaFor(name string) (Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}
