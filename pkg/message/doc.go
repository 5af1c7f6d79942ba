// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message builds the SOAP request documents of the SAT bulk
download service (Descarga Masiva).

# Operations

The service exposes four calls, each with its own endpoint and SOAP action:

  - Autentica: obtains a session token. Signed over the WS-Security timestamp.
  - SolicitaDescarga*: submits a bulk export. Three mutually exclusive variants
    (Recibidos, Emitidos, Folio) are selected from the request parameters.
  - VerificaSolicitudDescarga: polls a submitted export.
  - PeticionDescargaMasivaTercerosEntrada: retrieves one package.

# Building Requests

	b := message.NewBuilder(message.Settings{
	    RFC:     "XAXX010101000",
	    Solicit: message.Endpoint{URL: solicitURL, Action: solicitActionBase},
	})
	env, err := b.BuildSolicit(params)

The returned [Envelope] is unsigned. It records the signature profile and the
signable element so the security package can sign it without knowing the
schema.

# Variant Selection

Solicit variants are evaluated in order: a folio selects SolicitaDescargaFolio;
an issuer id or the "E" document type selects SolicitaDescargaEmitidos;
everything else is SolicitaDescargaRecibidos. Attribute filters are only
emitted for CFDI and Metadata requests.
*/
package message
