package security

import (
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"

	"github.com/sirosfoundation/go-satdescarga/pkg/credentials"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
)

// Algorithm identifiers accepted by the service
const (
	AlgorithmExcC14N    = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgorithmEnveloped  = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgorithmRSASHA1    = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgorithmSHA1Digest = "http://www.w3.org/2000/09/xmldsig#sha1"
)

// ReferenceIDAttribute is the attribute signature references resolve against.
// It matches both Id and u:Id.
const ReferenceIDAttribute = "Id"

const placeholder = "placeholder"

// Signer signs envelopes with material from a credentials source
type Signer struct {
	source credentials.Source
}

// NewSigner creates a signer
func NewSigner(source credentials.Source) *Signer {
	return &Signer{source: source}
}

// Sign returns the serialized, signed document. env.Doc is not modified.
func (s *Signer) Sign(env *message.Envelope) ([]byte, error) {
	if env == nil || env.Doc == nil || env.Doc.Root() == nil {
		return nil, fmt.Errorf("empty envelope")
	}

	bundle, err := s.source.Load()
	if err != nil {
		return nil, fmt.Errorf("loading signing material: %w", err)
	}

	doc := env.Doc.Copy()
	target, err := findTarget(doc.Root(), env.TargetID, env.TargetTag)
	if err != nil {
		return nil, err
	}

	certB64 := base64.StdEncoding.EncodeToString(bundle.Certificate.Raw)

	switch env.Profile {
	case message.ProfileTimestamp:
		if err := signTimestamp(doc, target, env.TokenID, certB64); err != nil {
			return nil, err
		}
	case message.ProfileEnveloped:
		signEnveloped(target, env.TargetID, certB64)
	default:
		return nil, fmt.Errorf("unsupported signature profile %v", env.Profile)
	}

	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to write XML: %w", err)
	}

	signer, err := signedxml.NewSigner(xmlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	signer.SetReferenceIDAttribute(ReferenceIDAttribute)

	signed, err := signer.Sign(bundle.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", env.Operation, err)
	}
	return []byte(signed), nil
}

// signTimestamp fills the BinarySecurityToken and appends a Signature over
// the timestamp to the Security header
func signTimestamp(doc *etree.Document, timestamp *etree.Element, tokenID, certB64 string) error {
	security := timestamp.Parent()
	if security == nil {
		return fmt.Errorf("timestamp has no enclosing Security header")
	}

	token, err := findTarget(doc.Root(), tokenID, "BinarySecurityToken")
	if err != nil {
		return fmt.Errorf("binary security token: %w", err)
	}
	token.SetText(certB64)

	sig := newSignature()
	addReference(sig.SelectElement("SignedInfo"), "#"+timestamp.SelectAttrValue(ReferenceIDAttribute, ""), false)
	sig.CreateElement("ds:SignatureValue").SetText(placeholder)

	keyInfo := sig.CreateElement("ds:KeyInfo")
	str := keyInfo.CreateElement("o:SecurityTokenReference")
	str.CreateAttr("xmlns:o", message.NSWSSE)
	ref := str.CreateElement("o:Reference")
	ref.CreateAttr("URI", "#"+tokenID)
	ref.CreateAttr("ValueType", message.ValueTypeX509v3)

	security.AddChild(sig)
	return nil
}

// signEnveloped inserts the Signature as the first child of target.
// An empty id references the whole document.
func signEnveloped(target *etree.Element, id, certB64 string) {
	uri := ""
	if id != "" {
		uri = "#" + id
	}

	sig := newSignature()
	addReference(sig.SelectElement("SignedInfo"), uri, true)
	sig.CreateElement("ds:SignatureValue").SetText(placeholder)

	x509Data := sig.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	x509Data.CreateElement("ds:X509Certificate").SetText(certB64)

	target.InsertChildAt(0, sig)
}

func newSignature() *etree.Element {
	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", message.NSDSig)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgorithmExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", AlgorithmRSASHA1)
	return sig
}

func addReference(signedInfo *etree.Element, uri string, enveloped bool) {
	// signedxml computes the digest during Sign
	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", uri)

	transforms := ref.CreateElement("ds:Transforms")
	if enveloped {
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgorithmEnveloped)
	}
	transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgorithmExcC14N)

	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgorithmSHA1Digest)
	ref.CreateElement("ds:DigestValue").SetText(placeholder)
}

// findTarget returns the single element whose Id (any prefix) equals id, or
// when id is empty the single element with local name tag
func findTarget(root *etree.Element, id, tag string) (*etree.Element, error) {
	var matches []*etree.Element
	walk(root, func(el *etree.Element) {
		if id != "" {
			for _, a := range el.Attr {
				if a.Key == ReferenceIDAttribute && a.Value == id {
					matches = append(matches, el)
					return
				}
			}
			return
		}
		if el.Tag == tag {
			matches = append(matches, el)
		}
	})

	if len(matches) != 1 {
		return nil, &SignTargetNotFoundError{ID: id, Tag: tag, Found: len(matches)}
	}
	return matches[0], nil
}

func walk(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}
