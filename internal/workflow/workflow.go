package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/sirosfoundation/go-satdescarga/pkg/compression"
	"github.com/sirosfoundation/go-satdescarga/pkg/credentials"
	"github.com/sirosfoundation/go-satdescarga/pkg/ledger"
	"github.com/sirosfoundation/go-satdescarga/pkg/message"
	"github.com/sirosfoundation/go-satdescarga/pkg/response"
	"github.com/sirosfoundation/go-satdescarga/pkg/transport"
)

// Signer signs a built envelope
type Signer interface {
	Sign(env *message.Envelope) ([]byte, error)
}

// Sender delivers a signed envelope and returns the response body
type Sender interface {
	Send(ctx context.Context, req *transport.Request) ([]byte, error)
}

// Options wires an Orchestrator
type Options struct {
	Builder   *message.Builder
	Signer    Signer
	Transport Sender
	// Timeouts supplies the per-operation request timeouts
	Timeouts *transport.Config

	Ledger          ledger.Store
	PendingRequests *ledger.PendingList
	PendingPackages *ledger.PendingList
	Packages        ledger.PackageStore
	Index           ledger.PackageIndex
	Tokens          *TokenStore

	// Credentials, when set, is checked for validity before authenticating
	Credentials credentials.Source

	// PollInterval and MaxPolls bound how Run waits for an export.
	// MaxPolls <= 1 verifies once.
	PollInterval time.Duration
	MaxPolls     int

	Now    func() time.Time
	Logger *slog.Logger
}

// Orchestrator drives authenticate, solicit, verify and download over the
// persisted ledger. It is not safe for concurrent use.
type Orchestrator struct {
	builder   *message.Builder
	signer    Signer
	transport Sender
	timeouts  *transport.Config

	ledger          ledger.Store
	pendingRequests *ledger.PendingList
	pendingPackages *ledger.PendingList
	packages        ledger.PackageStore
	index           ledger.PackageIndex
	tokens          *TokenStore
	credentials     credentials.Source

	pollInterval time.Duration
	maxPolls     int

	now    func() time.Time
	logger *slog.Logger
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Builder == nil:
		return nil, errors.New("workflow: builder is required")
	case opts.Signer == nil:
		return nil, errors.New("workflow: signer is required")
	case opts.Transport == nil:
		return nil, errors.New("workflow: transport is required")
	case opts.Ledger == nil, opts.Packages == nil, opts.Index == nil:
		return nil, errors.New("workflow: ledger, package store and index are required")
	case opts.PendingRequests == nil, opts.PendingPackages == nil:
		return nil, errors.New("workflow: pending lists are required")
	case opts.Tokens == nil:
		return nil, errors.New("workflow: token store is required")
	}

	o := &Orchestrator{
		builder:         opts.Builder,
		signer:          opts.Signer,
		transport:       opts.Transport,
		timeouts:        opts.Timeouts,
		ledger:          opts.Ledger,
		pendingRequests: opts.PendingRequests,
		pendingPackages: opts.PendingPackages,
		packages:        opts.Packages,
		index:           opts.Index,
		tokens:          opts.Tokens,
		credentials:     opts.Credentials,
		pollInterval:    opts.PollInterval,
		maxPolls:        opts.MaxPolls,
		now:             opts.Now,
		logger:          opts.Logger,
	}
	if o.timeouts == nil {
		o.timeouts = transport.DefaultConfig()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// today is the current calendar date
func (o *Orchestrator) today() time.Time {
	y, m, d := o.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// call signs env and sends it. A fault carried in a non-200 body is
// reported as the fault rather than as a transport error.
func (o *Orchestrator) call(ctx context.Context, env *message.Envelope, token string) ([]byte, error) {
	signed, err := o.signer.Sign(env)
	if err != nil {
		return nil, fmt.Errorf("signing %s request: %w", env.Operation, err)
	}

	body, err := o.transport.Send(ctx, &transport.Request{
		URL:     env.URL,
		Action:  env.Action,
		Token:   token,
		Body:    signed,
		Timeout: o.timeouts.TimeoutFor(env.Operation),
	})
	if err != nil {
		var terr *transport.TransportError
		if errors.As(err, &terr) && len(terr.Body) > 0 {
			if fault := response.DetectFault(terr.Body); fault != nil {
				return nil, fault
			}
		}
		return nil, err
	}
	return body, nil
}

// Authenticate obtains a session token and stores it
func (o *Orchestrator) Authenticate(ctx context.Context) (string, error) {
	o.checkCredentials()

	env := o.builder.BuildAuthenticate(o.now())
	body, err := o.call(ctx, env, "")
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	token, err := response.ParseAuthenticate(body)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	if err := o.tokens.Save(token); err != nil {
		return "", err
	}

	o.logger.Info("authenticated", "token_path", o.tokens.Path())
	return token, nil
}

func (o *Orchestrator) checkCredentials() {
	if o.credentials == nil {
		return
	}
	bundle, err := o.credentials.Load()
	if err != nil {
		// Signing reports the load failure
		return
	}
	if err := credentials.CheckValidity(bundle.Certificate, o.now()); err != nil {
		o.logger.Warn("signing certificate is not currently valid", "error", err,
			"not_before", bundle.Certificate.NotBefore, "not_after", bundle.Certificate.NotAfter)
	}
}

// SolicitResult is the outcome of a submission attempt
type SolicitResult struct {
	ID string
	// Duplicate is set when an equivalent request was already recorded and
	// nothing was sent
	Duplicate bool
	Variant   message.SolicitVariant
}

// Solicit submits params unless an equivalent request is already recorded
func (o *Orchestrator) Solicit(ctx context.Context, params message.RequestParameters) (*SolicitResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := ledger.KeyFor(params)
	id, found, err := o.ledger.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("solicit: %w", err)
	}
	if found {
		log := o.logger.With("request_id", id)
		log.Info("request already submitted, not sending again", "key", key.String())
		if err := o.requeue(ctx, log, id); err != nil {
			return nil, err
		}
		return &SolicitResult{ID: id, Duplicate: true, Variant: params.Variant()}, nil
	}

	token, err := o.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("solicit: %w", err)
	}

	env, err := o.builder.BuildSolicit(params)
	if err != nil {
		return nil, err
	}
	body, err := o.call(ctx, env, token)
	if err != nil {
		return nil, fmt.Errorf("solicit: %w", err)
	}
	res, err := response.ParseSolicit(env.Name, body)
	if err != nil {
		return nil, fmt.Errorf("solicit: %w", err)
	}

	entry := &ledger.Entry{
		ID:          res.RequestID,
		Params:      params,
		SubmittedAt: o.today(),
		State:       ledger.StateSubmitted,
	}
	if err := o.ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording request %s: %w", res.RequestID, err)
	}
	if err := o.pendingRequests.Add(res.RequestID); err != nil {
		return nil, err
	}

	o.logger.Info("request submitted", "request_id", res.RequestID, "variant", env.Name,
		"message", res.Message)
	return &SolicitResult{ID: res.RequestID, Variant: params.Variant()}, nil
}

// requeue puts a recorded but still submitted request back on the
// verification list if an earlier run lost it
func (o *Orchestrator) requeue(ctx context.Context, log *slog.Logger, id string) error {
	entry, err := o.ledger.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("solicit: %w", err)
	}
	if entry.State != ledger.StateSubmitted {
		return nil
	}
	pending, err := o.pendingRequests.Contains(id)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	log.Warn("submitted request missing from verification list, re-queued")
	return o.pendingRequests.Add(id)
}

// Verify polls every pending request once
func (o *Orchestrator) Verify(ctx context.Context) (*BatchReport, error) {
	ids, err := o.pendingRequests.Load()
	if err != nil {
		return nil, err
	}
	report := &BatchReport{}
	if len(ids) == 0 {
		o.logger.Info("no requests pending verification")
		return report, nil
	}

	token, err := o.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	survivors, fatal := o.runBatch(ctx, ids, report, func(id string) (bool, error) {
		return o.verifyOne(ctx, token, id)
	})

	if err := o.pendingRequests.Save(survivors); err != nil {
		return report, err
	}
	o.logger.Info("verification pass finished", "completed", len(report.Completed),
		"pending", len(report.Pending), "failed", len(report.Failed), "skipped", len(report.Skipped))

	if fatal != nil {
		return report, fatal
	}
	return report, ctx.Err()
}

func (o *Orchestrator) verifyOne(ctx context.Context, token, id string) (bool, error) {
	log := o.logger.With("request_id", id)

	env, err := o.builder.BuildVerify(id)
	if err != nil {
		return false, err
	}
	body, err := o.call(ctx, env, token)
	if err != nil {
		return false, err
	}
	res, err := response.ParseVerify(body)
	if err != nil {
		return false, err
	}

	log.Info("request status", "status", res.Status.String(), "status_code", res.StatusCode,
		"cfdis", res.CFDICount, "message", res.Message)

	if res.Status != response.StatusReady {
		if res.Status.Terminal() {
			log.Warn("request will not become ready", "status", res.Status.String())
		}
		return false, nil
	}

	err = o.ledger.Update(ctx, id, ledger.StateReady, o.today())
	switch {
	case errors.Is(err, ledger.ErrInvalidTransition):
		log.Info("request already retrieved, dropping it")
		return true, nil
	case errors.Is(err, ledger.ErrNotFound):
		log.Warn("ready request is not in the ledger, queueing its packages anyway")
	case err != nil:
		return false, err
	}

	if err := o.index.Bind(ctx, id, res.PackageIDs); err != nil {
		return false, err
	}
	if err := o.pendingPackages.Add(res.PackageIDs...); err != nil {
		return false, err
	}

	log.Info("request ready", "packages", res.PackageIDs)
	return true, nil
}

// Download retrieves every pending package once
func (o *Orchestrator) Download(ctx context.Context) (*BatchReport, error) {
	ids, err := o.pendingPackages.Load()
	if err != nil {
		return nil, err
	}
	report := &BatchReport{}
	if len(ids) == 0 {
		o.logger.Info("no packages pending download")
		return report, nil
	}

	token, err := o.tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	survivors, fatal := o.runBatch(ctx, ids, report, func(id string) (bool, error) {
		return true, o.downloadOne(ctx, token, id)
	})

	if err := o.pendingPackages.Save(survivors); err != nil {
		return report, err
	}

	if fatal == nil {
		fatal = o.completeOwners(ctx, report.Completed, survivors)
	}

	o.logger.Info("download pass finished", "completed", len(report.Completed),
		"failed", len(report.Failed), "skipped", len(report.Skipped))

	if fatal != nil {
		return report, fatal
	}
	return report, ctx.Err()
}

func (o *Orchestrator) downloadOne(ctx context.Context, token, id string) error {
	log := o.logger.With("package_id", id)

	env, err := o.builder.BuildDownload(id)
	if err != nil {
		return err
	}
	body, err := o.call(ctx, env, token)
	if err != nil {
		return err
	}
	res, err := response.ParseDownload(body)
	if err != nil {
		return err
	}

	manifest, err := compression.Inspect(res.Package)
	if err != nil {
		return fmt.Errorf("package %s: %w", id, err)
	}
	if err := o.packages.Put(ctx, id, res.Package); err != nil {
		return err
	}

	log.Info("package retrieved", "bytes", len(res.Package), "entries", len(manifest.Entries),
		"documents", manifest.Documents, "metadata_reports", manifest.MetadataReports)
	return nil
}

// completeOwners marks retrieved every request touched by this pass whose
// packages are no longer pending
func (o *Orchestrator) completeOwners(ctx context.Context, retrieved, pending []string) error {
	var owners []string
	for _, id := range retrieved {
		owner, err := o.ownerOf(ctx, id)
		if err != nil {
			o.logger.Warn("package has no known owning request", "package_id", id, "error", err)
			continue
		}
		if !slices.Contains(owners, owner) {
			owners = append(owners, owner)
		}
	}

	for _, owner := range owners {
		log := o.logger.With("request_id", owner)

		siblings, err := o.index.Packages(ctx, owner)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(siblings, func(p string) bool { return slices.Contains(pending, p) }) {
			log.Info("request still has packages pending")
			continue
		}

		err = o.ledger.Update(ctx, owner, ledger.StateRetrieved, o.today())
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			log.Warn("owning request is not in the ledger")
		case errors.Is(err, ledger.ErrLedgerCorruption):
			return err
		case err != nil:
			log.Error("failed to mark request retrieved", "error", err)
		default:
			log.Info("request retrieved")
		}
	}
	return nil
}

func (o *Orchestrator) ownerOf(ctx context.Context, packageID string) (string, error) {
	owner, err := o.index.Owner(ctx, packageID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.OwnerFromName(packageID)
	}
	return owner, err
}

// runBatch applies fn to each id in order. It returns the ids that stay
// pending, in their original order, and the error that stopped the pass.
// Ledger corruption stops the pass; any other failure stays with its item.
func (o *Orchestrator) runBatch(ctx context.Context, ids []string, report *BatchReport, fn func(id string) (bool, error)) ([]string, error) {
	var (
		survivors []string
		fatal     error
	)
	for i, id := range ids {
		if fatal != nil || ctx.Err() != nil {
			survivors = append(survivors, ids[i:]...)
			report.Skipped = append(report.Skipped, ids[i:]...)
			break
		}

		done, err := fn(id)
		switch {
		case err != nil:
			o.logger.Error("item failed, keeping it pending", "id", id, "error", err)
			survivors = append(survivors, id)
			report.Failed = append(report.Failed, ItemError{ID: id, Err: err})
			if errors.Is(err, ledger.ErrLedgerCorruption) {
				fatal = err
			}
		case done:
			report.Completed = append(report.Completed, id)
		default:
			survivors = append(survivors, id)
			report.Pending = append(report.Pending, id)
		}
	}
	return survivors, fatal
}

// RunReport collects the outcome of a full run
type RunReport struct {
	Solicit  *SolicitResult
	Verify   *BatchReport
	Download *BatchReport
}

// Run authenticates, submits params, verifies and downloads. Verification
// is repeated up to MaxPolls times, PollInterval apart, while requests stay
// pending; each later pass authenticates again.
func (o *Orchestrator) Run(ctx context.Context, params message.RequestParameters) (*RunReport, error) {
	report := &RunReport{}

	if _, err := o.Authenticate(ctx); err != nil {
		return report, err
	}

	res, err := o.Solicit(ctx, params)
	if err != nil {
		return report, err
	}
	report.Solicit = res

	for attempt := 1; ; attempt++ {
		report.Verify, err = o.Verify(ctx)
		if err != nil {
			return report, err
		}
		if len(report.Verify.Remaining()) == 0 || attempt >= o.maxPolls {
			break
		}

		o.logger.Info("waiting for pending requests", "attempt", attempt, "next_in", o.pollInterval)
		if err := o.wait(ctx); err != nil {
			return report, err
		}
		if _, err := o.Authenticate(ctx); err != nil {
			return report, err
		}
	}

	report.Download, err = o.Download(ctx)
	return report, err
}

func (o *Orchestrator) wait(ctx context.Context) error {
	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
