// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security signs request envelopes with XML-DSig.

The bulk download service accepts RSA-SHA1 signatures with SHA-1 digests and
exclusive canonicalization. Two placements are used:

Timestamp (authentication):

	<o:Security>
	  <u:Timestamp u:Id="TS">...</u:Timestamp>
	  <o:BinarySecurityToken u:Id="uuid-...">base64 DER</o:BinarySecurityToken>
	  <ds:Signature>
	    Reference URI="#TS", KeyInfo/SecurityTokenReference to the token
	  </ds:Signature>
	</o:Security>

Enveloped (solicit, verify, download): the Signature is the first child of
the signed element, with enveloped and exclusive canonicalization transforms
and the certificate embedded in KeyInfo/X509Data.

	signer := security.NewSigner(credentials.FileSource{CertPath: c, KeyPath: k})
	body, err := signer.Sign(env)

Signing material is loaded from the [credentials.Source] on every call.
*/
package security
