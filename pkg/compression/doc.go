// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression inspects the zip packages delivered by the bulk
download service.

A CFDI package holds one XML document per invoice; a metadata package holds
text reports. The archive is stored as delivered; inspection only reports
what it contains:

	m, err := compression.Inspect(data)
	logger.Info("package contents", "documents", m.Documents, "bytes", m.TotalSize)

Every entry is read in full so a truncated or corrupted download is detected
before the package is marked retrieved.
*/
package compression
