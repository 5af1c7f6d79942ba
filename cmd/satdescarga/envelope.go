package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirosfoundation/go-satdescarga/pkg/message"
	"github.com/sirosfoundation/go-satdescarga/pkg/security"
)

// cmdEnvelope prints a signed request without sending it. The signature is
// checked before printing.
func cmdEnvelope(_ context.Context, args []string, out, errOut io.Writer) int {
	var g globalFlags
	fs := newFlagSet("envelope", errOut, &g)
	op := fs.String("op", "authenticate", "operation: authenticate, solicit, verify or download")
	id := fs.String("id", "", "request id (verify) or package id (download)")
	fs.StringVar(&g.from, "from", "", "first day to export (solicit)")
	fs.StringVar(&g.to, "to", "", "last day to export (solicit)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, logger, ok := loadConfig(g.configPath, errOut)
	if !ok {
		return 1
	}
	if g.from != "" {
		cfg.Dates.From = g.from
	}
	if g.to != "" {
		cfg.Dates.To = g.to
	}

	builder := message.NewBuilder(cfg.MessageSettings())
	var (
		env *message.Envelope
		err error
	)
	switch *op {
	case "authenticate":
		env = builder.BuildAuthenticate(nowFunc())
	case "solicit":
		params, perr := cfg.RequestParameters()
		if perr != nil {
			err = perr
			break
		}
		env, err = builder.BuildSolicit(params)
	case "verify":
		env, err = builder.BuildVerify(*id)
	case "download":
		env, err = builder.BuildDownload(*id)
	default:
		fmt.Fprintf(errOut, "unknown operation: %s\n", *op)
		return 2
	}
	if err != nil {
		logger.Error("building envelope failed", "operation", *op, "error", err)
		return 1
	}

	source := cfg.CredentialSource()
	signed, err := security.NewSigner(source).Sign(env)
	if err != nil {
		logger.Error("signing envelope failed", "operation", *op, "error", err)
		return 1
	}

	bundle, err := source.Load()
	if err != nil {
		logger.Error("loading certificate failed", "error", err)
		return 1
	}
	if err := security.Validate(signed, bundle.Certificate); err != nil {
		logger.Error("signed envelope does not validate", "operation", *op, "error", err)
		return 1
	}

	logger.Debug("envelope signed", "operation", *op, "url", env.URL, "action", env.Action)
	_, _ = out.Write(signed)
	fmt.Fprintln(out)
	return 0
}

// cmdCheckSignature validates a signed request file against the configured
// certificate
func cmdCheckSignature(args []string, out, errOut io.Writer) int {
	var g globalFlags
	fs := newFlagSet("check-signature", errOut, &g)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: satdescarga check-signature [--config <file>] <signed-xml-file>")
		return 2
	}

	cfg, logger, ok := loadConfig(g.configPath, errOut)
	if !ok {
		return 1
	}

	signed, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		logger.Error("reading signed document failed", "error", err)
		return 1
	}
	bundle, err := cfg.CredentialSource().Load()
	if err != nil {
		logger.Error("loading certificate failed", "error", err)
		return 1
	}

	if err := security.Validate(signed, bundle.Certificate); err != nil {
		fmt.Fprintf(out, "signature INVALID: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "signature valid")
	return 0
}
