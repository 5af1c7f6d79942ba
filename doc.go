// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package satdescarga automates the Mexican tax authority's bulk invoice
download service (SAT "Descarga Masiva de CFDI y Retenciones").

# Overview

go-satdescarga authenticates with a signed WS-Security request, submits a
bulk export request, polls until the export is ready, and retrieves the
compressed packages. A durable ledger records every request so that an
interrupted run can resume without submitting the same export twice.

# Protocol

The service exposes four SOAP operations:

  - Autentica: timestamp signed with the requester's e.firma, answered with a session token
  - SolicitaDescargaRecibidos / SolicitaDescargaEmitidos / SolicitaDescargaFolio: submit an export
  - VerificaSolicitudDescarga: report the export state and, once ready, its package ids
  - PeticionDescargaMasivaTercerosEntrada: return one package as base64

Every request after authentication carries the token in a WRAP
Authorization header and an enveloped XML signature.

# Package Structure

	github.com/sirosfoundation/go-satdescarga/pkg/credentials - e.firma .cer/.key to PEM conversion and key loading
	github.com/sirosfoundation/go-satdescarga/pkg/message     - Request parameters and envelope builders
	github.com/sirosfoundation/go-satdescarga/pkg/security    - XML-DSig signing and validation
	github.com/sirosfoundation/go-satdescarga/pkg/transport   - HTTPS transport with TLS 1.2/1.3
	github.com/sirosfoundation/go-satdescarga/pkg/response    - Fault detection and per-operation result parsing
	github.com/sirosfoundation/go-satdescarga/pkg/ledger      - Request ledger, pending lists, package store and index
	github.com/sirosfoundation/go-satdescarga/pkg/compression - Package archive inspection

Supporting code lives under internal/: configuration, the MongoDB backend,
and the workflow orchestrator. The command is cmd/satdescarga.

# Quick Start

	satdescarga prepare --config config.yaml
	satdescarga run --config config.yaml --polls 10 --poll-interval 2m

or step by step:

	satdescarga auth
	satdescarga solicit --from 2024-01-01 --to 2024-01-31
	satdescarga verify
	satdescarga download

# Security

  - Signatures: RSA-SHA1 with SHA-1 digests and exclusive canonicalization, as the service requires
  - The private key is only written to fiel.pem with mode 0600
  - TLS 1.2 minimum with AEAD cipher suites

# References

  - Descarga Masiva web service: https://www.sat.gob.mx/consultas/42968/consulta-y-recuperacion-de-comprobantes-(nuevo)
  - WS-Security: https://www.oasis-open.org/committees/wss/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/

# License

BSD-2-Clause License
*/
package satdescarga
