package response

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

// Result is an operation result extracted through its schema
type Result struct {
	Name     string
	Fields   map[string]string
	Text     string
	Children []string
	Payload  string
}

// Field returns an attribute read from the result element
func (r *Result) Field(name string) string {
	return r.Fields[name]
}

// Parse extracts the result of operation name from body. Faults are
// reported before the schema is applied. CodEstatus is not checked.
func Parse(name string, body []byte) (*Result, error) {
	schema, ok := SchemaFor(name)
	if !ok {
		return nil, fmt.Errorf("no response schema for operation %q", name)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse response XML: %w", err)
	}
	if fault := findFault(doc); fault != nil {
		return nil, fault
	}

	el := doc.FindElement("//" + schema.Result)
	if el == nil {
		return nil, &MissingResultError{Element: schema.Result}
	}

	res := &Result{Name: name, Fields: make(map[string]string, len(schema.Fields))}
	for _, f := range schema.Fields {
		res.Fields[f] = el.SelectAttrValue(f, "")
	}
	if schema.Text {
		res.Text = strings.TrimSpace(el.Text())
	}
	if schema.Children != "" {
		for _, child := range doc.FindElements("//" + schema.Children) {
			res.Children = append(res.Children, child.Text())
		}
	}
	if schema.Payload != "" {
		if p := doc.FindElement("//" + schema.Payload); p != nil {
			res.Payload = strings.TrimSpace(p.Text())
		}
	}
	return res, nil
}

// DetectFault reports a SOAP fault in body, or nil. Bodies that are not
// XML yield nil.
func DetectFault(body []byte) *ProtocolFault {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil
	}
	return findFault(doc)
}

func findFault(doc *etree.Document) *ProtocolFault {
	fault := doc.FindElement("//Fault")
	if fault == nil {
		return nil
	}
	code := childText(fault, "faultcode", "Code/Value")
	msg := childText(fault, "faultstring", "Reason/Text")
	return &ProtocolFault{Code: code, Message: msg}
}

func childText(el *etree.Element, paths ...string) string {
	for _, p := range paths {
		if c := el.FindElement("./" + p); c != nil {
			return strings.TrimSpace(c.Text())
		}
	}
	return ""
}

func checkStatus(res *Result) error {
	if code := res.Field("CodEstatus"); code != StatusSuccess {
		return &BusinessError{Operation: res.Name, Code: code, Message: res.Field("Mensaje")}
	}
	return nil
}

// ParseAuthenticate returns the session token
func ParseAuthenticate(body []byte) (string, error) {
	res, err := Parse(message.NameAuthenticate, body)
	if err != nil {
		return "", err
	}
	if res.Text == "" {
		return "", &MissingResultError{Element: "AutenticaResult"}
	}
	return res.Text, nil
}

// SolicitResult is an accepted bulk export request
type SolicitResult struct {
	Code      string
	Message   string
	RequestID string
}

// ParseSolicit parses the response of the solicit variant name
func ParseSolicit(name string, body []byte) (*SolicitResult, error) {
	res, err := Parse(name, body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(res.Field("IdSolicitud"))
	if id == "" {
		return nil, &MissingResultError{Element: "IdSolicitud"}
	}
	return &SolicitResult{Code: res.Field("CodEstatus"), Message: res.Field("Mensaje"), RequestID: id}, nil
}

// VerifyResult is the reported state of a submitted export
type VerifyResult struct {
	Code       string
	Message    string
	Status     VerifyStatus
	StatusCode string
	CFDICount  int
	// PackageIDs is only populated when Status is StatusReady
	PackageIDs []string
}

// ParseVerify parses a VerificaSolicitudDescarga response
func ParseVerify(body []byte) (*VerifyResult, error) {
	res, err := Parse(message.NameVerify, body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	out := &VerifyResult{
		Code:       res.Field("CodEstatus"),
		Message:    res.Field("Mensaje"),
		Status:     ParseVerifyStatus(res.Field("EstadoSolicitud")),
		StatusCode: res.Field("CodigoEstadoSolicitud"),
	}
	if n, err := strconv.Atoi(res.Field("NumeroCFDIs")); err == nil {
		out.CFDICount = n
	}
	if out.Status == StatusReady {
		out.PackageIDs = splitPackageIDs(res.Children)
	}
	return out, nil
}

func splitPackageIDs(texts []string) []string {
	var ids []string
	for _, t := range texts {
		for _, p := range strings.Split(t, "|") {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
	}
	return ids
}

// DownloadResult is a retrieved package
type DownloadResult struct {
	Code    string
	Message string
	Package []byte
}

// ParseDownload parses a package retrieval response and decodes the package
func ParseDownload(body []byte) (*DownloadResult, error) {
	res, err := Parse(message.NameDownload, body)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	if res.Payload == "" {
		return nil, &MissingResultError{Element: "Paquete"}
	}

	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(res.Payload), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding package: %w", err)
	}
	return &DownloadResult{Code: res.Field("CodEstatus"), Message: res.Field("Mensaje"), Package: data}, nil
}
