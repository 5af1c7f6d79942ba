// Command satdescarga drives the bulk invoice download service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirosfoundation/go-satdescarga/internal/config"
	"github.com/sirosfoundation/go-satdescarga/internal/storage"
	"github.com/sirosfoundation/go-satdescarga/internal/workflow"
	"github.com/sirosfoundation/go-satdescarga/pkg/credentials"
	"github.com/sirosfoundation/go-satdescarga/pkg/ledger"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
	"github.com/sirosfoundation/go-satdescarga/pkg/security"
	"github.com/sirosfoundation/go-satdescarga/pkg/transport"
)

const defaultConfigPath = "config.yaml"

var nowFunc = time.Now

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "prepare":
		return cmdPrepare(args[1:], out, errOut)
	case "auth":
		return cmdWorkflow(ctx, "auth", args[1:], out, errOut)
	case "solicit":
		return cmdWorkflow(ctx, "solicit", args[1:], out, errOut)
	case "verify":
		return cmdWorkflow(ctx, "verify", args[1:], out, errOut)
	case "download":
		return cmdWorkflow(ctx, "download", args[1:], out, errOut)
	case "run":
		return cmdWorkflow(ctx, "run", args[1:], out, errOut)
	case "envelope":
		return cmdEnvelope(ctx, args[1:], out, errOut)
	case "check-signature":
		return cmdCheckSignature(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "satdescarga: bulk invoice download client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  satdescarga prepare  [--config <file>]")
	fmt.Fprintln(w, "  satdescarga auth     [--config <file>]")
	fmt.Fprintln(w, "  satdescarga solicit  [--config <file>] [--from YYYY-MM-DD --to YYYY-MM-DD]")
	fmt.Fprintln(w, "  satdescarga verify   [--config <file>]")
	fmt.Fprintln(w, "  satdescarga download [--config <file>]")
	fmt.Fprintln(w, "  satdescarga run      [--config <file>] [--from ... --to ...] [--polls <n>] [--poll-interval <d>]")
	fmt.Fprintln(w, "  satdescarga envelope [--config <file>] --op authenticate|solicit|verify|download [--id <id>]")
	fmt.Fprintln(w, "  satdescarga check-signature [--config <file>] <signed-xml-file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - prepare converts the .cer/.key pair in credentials.dir into cert.pem and fiel.pem")
	fmt.Fprintln(w, "  - solicit never resubmits a request already recorded in the ledger")
	fmt.Fprintln(w, "  - verify and download process each pending item independently")
	fmt.Fprintln(w, "  - envelope prints a signed request without sending it")
}

// globalFlags are accepted by every subcommand
type globalFlags struct {
	configPath string
	from, to   string
	polls      int
	interval   time.Duration
}

func newFlagSet(name string, errOut io.Writer, g *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&g.configPath, "config", defaultConfigPath, "configuration file")
	return fs
}

func loadConfig(path string, errOut io.Writer) (*config.Config, *slog.Logger, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return nil, nil, false
	}
	return cfg, newLogger(cfg.Log, errOut), true
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func cmdPrepare(args []string, out, errOut io.Writer) int {
	var g globalFlags
	fs := newFlagSet("prepare", errOut, &g)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig(g.configPath, errOut)
	if !ok {
		return 1
	}

	res, err := credentials.NewMaterializer(logger).Materialize(cfg.Credentials.Dir, cfg.Credentials.PasswordPath)
	if err != nil {
		logger.Error("preparing signing material failed", "error", err)
		return 1
	}
	fmt.Fprintln(out, res.CertPath)
	fmt.Fprintln(out, res.KeyPath)
	return 0
}

func cmdWorkflow(ctx context.Context, name string, args []string, out, errOut io.Writer) int {
	var g globalFlags
	fs := newFlagSet(name, errOut, &g)
	if name == "solicit" || name == "run" {
		fs.StringVar(&g.from, "from", "", "first day to export (overrides dates.from)")
		fs.StringVar(&g.to, "to", "", "last day to export (overrides dates.to)")
	}
	if name == "run" {
		fs.IntVar(&g.polls, "polls", 1, "verification passes before downloading")
		fs.DurationVar(&g.interval, "poll-interval", time.Minute, "wait between verification passes")
	}
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

	backend, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		logger.Error("opening storage failed", "error", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Warn("closing storage failed", "error", err)
		}
	}()

	source := cfg.CredentialSource()
	o, err := workflow.New(workflow.Options{
		Builder:         message.NewBuilder(cfg.MessageSettings()),
		Signer:          security.NewSigner(source),
		Transport:       transport.NewClient(cfg.TransportConfig()),
		Timeouts:        cfg.TransportConfig(),
		Ledger:          backend.Ledger,
		PendingRequests: ledger.NewPendingList(cfg.Paths.PendingRequests),
		PendingPackages: ledger.NewPendingList(cfg.Paths.PendingPackages),
		Packages:        backend.Packages,
		Index:           backend.Index,
		Tokens:          workflow.NewTokenStore(cfg.Paths.Token),
		Credentials:     source,
		PollInterval:    g.interval,
		MaxPolls:        g.polls,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("creating workflow failed", "error", err)
		return 1
	}

	if err := dispatch(ctx, name, cfg, o, out); err != nil {
		logger.Error(name+" failed", "error", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, name string, cfg *config.Config, o *workflow.Orchestrator, out io.Writer) error {
	switch name {
	case "auth":
		_, err := o.Authenticate(ctx)
		return err

	case "solicit":
		params, err := cfg.RequestParameters()
		if err != nil {
			return err
		}
		res, err := o.Solicit(ctx, params)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.ID)
		return nil

	case "verify":
		report, err := o.Verify(ctx)
		return reportResult(out, report, err)

	case "download":
		report, err := o.Download(ctx)
		return reportResult(out, report, err)

	case "run":
		params, err := cfg.RequestParameters()
		if err != nil {
			return err
		}
		report, err := o.Run(ctx, params)
		if report.Solicit != nil {
			fmt.Fprintf(out, "request %s (duplicate=%t)\n", report.Solicit.ID, report.Solicit.Duplicate)
		}
		if report.Verify != nil {
			fmt.Fprintf(out, "verify: %s\n", report.Verify)
		}
		if report.Download != nil {
			fmt.Fprintf(out, "download: %s\n", report.Download)
		}
		return err
	}
	return fmt.Errorf("unknown command %q", name)
}

// reportResult prints a batch report. Item failures are reported but do
// not fail the command; they stay pending for the next pass.
func reportResult(out io.Writer, report *workflow.BatchReport, err error) error {
	if report != nil {
		fmt.Fprintln(out, report.String())
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}
