// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package credentials prepares and loads the e.firma signing material.

The authority issues a DER certificate (.cer) and a password-protected DER
PKCS#8 key (.key). [Materializer] converts that pair into cert.pem and
fiel.pem next to the inputs:

	m := credentials.NewMaterializer(logger)
	res, err := m.Materialize("/srv/fiel", "/srv/fiel/password.txt")

Both outputs are written atomically and restricted to the owner. If any
stage fails the outputs of the run are removed.

[FileSource] reads the materialized pair on every call so key material is
never cached in memory between signing operations.
*/
package credentials
