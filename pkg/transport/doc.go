// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport posts signed SOAP envelopes to the bulk download service.

Every call is an HTTP POST with Content-Type "text/xml; charset=utf-8" and the
operation's SOAPAction. Calls after authentication carry the session token:

	Authorization: WRAP access_token="<token>"

# Client Usage

	client := transport.NewClient(transport.DefaultConfig())
	body, err := client.Send(ctx, &transport.Request{
	    URL:     env.URL,
	    Action:  env.Action,
	    Token:   token,
	    Body:    signed,
	    Timeout: client.Config().TimeoutFor(env.Operation),
	})

Any failure to obtain a 200 response is a [TransportError]. No partial body
is returned.

# TLS Configuration

The client negotiates TLS 1.2 or 1.3 and offers ECDHE-GCM suites for 1.2.
*/
package transport
