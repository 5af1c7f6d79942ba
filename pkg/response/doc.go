// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package response extracts operation results from service responses.

Each operation name maps to a [Schema] naming its result element, the
attributes to read, and any repeated children or base64 payload. Elements are
matched by local name so namespace prefixes chosen by the service do not
matter.

Errors are reported in this order:

  - [ProtocolFault] when the body carries a SOAP Fault
  - [MissingResultError] when the result element is absent
  - [BusinessError] when CodEstatus is not 5000
*/
package response
