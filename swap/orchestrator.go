package swap

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stellar/go/support/log"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// Default per-step timeouts. A deadline expiry is classified by the component
// at the boundary as NETWORK_UNREACHABLE, so the retry policy applies to
// timeouts the same way it applies to transport failures.
const (
	DefaultQuoteTimeout  = 10 * time.Second
	DefaultBuildTimeout  = 15 * time.Second
	DefaultSubmitTimeout = 30 * time.Second

	// defaultRateLimitDelay is the initial backoff after a RATE_LIMITED
	// response before the trade restarts from quoting.
	defaultRateLimitDelay = 2 * time.Second

	// maxRateLimitRetries bounds the backoff-and-restart policy. Repeated
	// rate limiting is surfaced as a failure to avoid unbounded loops.
	maxRateLimitRetries = 1
)

// Orchestrator sequences the multi-step trade workflow. It is the only
// component holding cross-step state, and the only component that decides
// whether to retry. It is stateless between trades except for the per-account
// serialization table.
type Orchestrator struct {
	networkPassphrase string
	fetcher           stellarswap.QuoteFetcher
	builder           stellarswap.TransactionBuilder
	submitter         stellarswap.SubmissionClient

	progress *ProgressRegistry
	logger   *log.Entry

	quoteTimeout   time.Duration
	buildTimeout   time.Duration
	submitTimeout  time.Duration
	rateLimitDelay time.Duration

	accounts *accountLocks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for audit and progress logging.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithProgress sets the registry that receives trade state-change events.
func WithProgress(registry *ProgressRegistry) Option {
	return func(o *Orchestrator) {
		o.progress = registry
	}
}

// WithTimeouts overrides the per-step timeouts for quote fetching, envelope
// building, and submission.
func WithTimeouts(quote, build, submit time.Duration) Option {
	return func(o *Orchestrator) {
		o.quoteTimeout = quote
		o.buildTimeout = build
		o.submitTimeout = submit
	}
}

// WithRateLimitDelay sets the initial backoff delay after a rate-limited
// response (default: 2s).
func WithRateLimitDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.rateLimitDelay = d
	}
}

// New creates an Orchestrator bound to a network and its three static
// capabilities. The Signer is passed per trade, since it belongs to the
// trade's wallet, not to the orchestrator.
func New(
	networkPassphrase string,
	fetcher stellarswap.QuoteFetcher,
	builder stellarswap.TransactionBuilder,
	submitter stellarswap.SubmissionClient,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		networkPassphrase: networkPassphrase,
		fetcher:           fetcher,
		builder:           builder,
		submitter:         submitter,
		progress:          NewProgressRegistry(),
		logger:            log.New(),
		quoteTimeout:      DefaultQuoteTimeout,
		buildTimeout:      DefaultBuildTimeout,
		submitTimeout:     DefaultSubmitTimeout,
		rateLimitDelay:    defaultRateLimitDelay,
		accounts:          newAccountLocks(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Progress returns the registry callers use to observe trade state changes.
func (o *Orchestrator) Progress() *ProgressRegistry {
	return o.progress
}

// tradeRun is the cross-step state of one logical trade: current FSM state,
// correlation id, and the bounded rate-limit budget.
type tradeRun struct {
	id       string
	account  string
	state    State
	log      *log.Entry
	progress *ProgressRegistry
	limiter  backoff.BackOff
}

func (o *Orchestrator) newRun(intent stellarswap.TradeIntent) *tradeRun {
	id := uuid.NewString()
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.rateLimitDelay
	expo.MaxElapsedTime = 0

	return &tradeRun{
		id:      id,
		account: intent.Account,
		state:   StateIdle,
		log: o.logger.WithFields(log.F{
			"trade_id": id,
			"account":  intent.Account,
			"pair":     intent.SellAsset.String() + "/" + intent.BuyAsset.String(),
		}),
		progress: o.progress,
		limiter:  backoff.WithMaxRetries(expo, maxRateLimitRetries),
	}
}

// to advances the trade to the given state, enforcing the legal-transition
// table and notifying progress handlers.
func (r *tradeRun) to(state State, detail string) error {
	if err := ValidateTransition(r.state, state); err != nil {
		return err
	}
	r.state = state
	r.progress.Trigger(TradeProgress{
		TradeID: r.id,
		Account: r.account,
		State:   state,
		Detail:  detail,
	})
	return nil
}

// ExecuteTrade runs one logical trade to a terminal outcome: a successful
// SubmissionResult with hash and ledger, or a SwapError carrying one taxonomy
// reason. Trades on the same source account are serialized; trades on
// distinct accounts run concurrently.
//
// Cancellation via ctx is honored at every step boundary until a signed
// envelope is handed to the submission client; after that the broadcast is
// irrevocable and the orchestrator waits for a definitive result.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, intent stellarswap.TradeIntent, signer stellarswap.Signer) (*stellarswap.SubmissionResult, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.NewSwapError(errors.SIGNATURE_FAILED, "a signature gateway is required", nil)
	}

	release := o.accounts.acquire(intent.Account)
	defer release()

	run := o.newRun(intent)
	run.log.Info("trade accepted")

	// trustlineDone bounds the trustline sub-operation to once per trade:
	// a second TRUSTLINE_REQUIRED after the trustline settled means the
	// provider is misbehaving, not that another retry will help.
	trustlineDone := false

	for {
		if err := ctx.Err(); err != nil {
			return o.fail(run, cancellationError(err))
		}

		if err := run.to(StateQuoting, "fetching quote"); err != nil {
			return nil, err
		}
		quote, err := o.fetchQuote(ctx, run, intent)
		if err != nil {
			if errors.CodeOf(err) == errors.RATE_LIMITED {
				if berr := o.backoffRateLimit(ctx, run); berr != nil {
					return o.fail(run, berr)
				}
				continue
			}
			return o.fail(run, err)
		}
		run.log.WithFields(log.F{
			"amount_in":  quote.AmountIn,
			"amount_out": quote.AmountOut,
		}).Info("quote received")

		if err := run.to(StateBuilding, "building transaction"); err != nil {
			return nil, err
		}
		env, err := o.build(ctx, intent, quote)
		if err != nil {
			switch errors.CodeOf(err) {
			case errors.TRUSTLINE_REQUIRED:
				if trustlineDone {
					return o.fail(run, errors.NewSwapError(errors.TRUSTLINE_REQUIRED,
						"trustline still reported missing after creation", err))
				}
				trustlineDone = true
				if terr := o.establishTrustline(ctx, run, intent, signer); terr != nil {
					return o.fail(run, terr)
				}
				continue
			case errors.RATE_LIMITED:
				if berr := o.backoffRateLimit(ctx, run); berr != nil {
					return o.fail(run, berr)
				}
				continue
			default:
				return o.fail(run, err)
			}
		}

		res, err := o.signAndSubmit(ctx, run, env, signer, "swap")
		if err != nil {
			return o.fail(run, err)
		}

		if res.Successful() {
			if err := run.to(StateSucceeded, "transaction "+res.Hash+" in ledger"); err != nil {
				return nil, err
			}
			run.log.WithFields(log.F{
				"hash":   res.Hash,
				"ledger": res.Ledger,
			}).Info("trade succeeded")
			return res, nil
		}

		switch res.Reason {
		case errors.TRUSTLINE_REQUIRED:
			if trustlineDone {
				return o.fail(run, errors.NewSwapError(errors.TRUSTLINE_REQUIRED,
					"trustline still reported missing after creation", nil).
					WithContext("detail", res.Detail))
			}
			trustlineDone = true
			if terr := o.establishTrustline(ctx, run, intent, signer); terr != nil {
				return o.fail(run, terr)
			}
			continue
		case errors.RATE_LIMITED:
			if berr := o.backoffRateLimit(ctx, run); berr != nil {
				return o.fail(run, berr)
			}
			continue
		default:
			// SEQUENCE_CONFLICT, VALIDATION_REJECTED, NETWORK_UNREACHABLE and
			// UNKNOWN are never safe to retry with the same envelope, and the
			// default policy does not rebuild automatically. The caller may
			// re-invoke the whole flow.
			return o.fail(run, errors.NewSwapError(res.Reason, "submission rejected", nil).
				WithContext("detail", res.Detail))
		}
	}
}

// fetchQuote fetches a quote under the quote timeout. A quote that arrives
// already expired is re-fetched once; quotes are price-sensitive and the
// builder refuses expired ones.
func (o *Orchestrator) fetchQuote(ctx context.Context, run *tradeRun, intent stellarswap.TradeIntent) (*stellarswap.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, o.quoteTimeout)
	defer cancel()

	quote, err := o.fetcher.FetchQuote(qctx, intent)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, errors.NewSwapError(errors.UNKNOWN, "quote fetcher returned no quote", nil)
	}

	if quote.Expired(time.Now()) {
		run.log.Warn("quote arrived expired, re-fetching")
		quote, err = o.fetcher.FetchQuote(qctx, intent)
		if err != nil {
			return nil, err
		}
		if quote == nil || quote.Expired(time.Now()) {
			return nil, errors.NewSwapError(errors.UNKNOWN, "provider returns pre-expired quotes", nil)
		}
	}

	return quote, nil
}

func (o *Orchestrator) build(ctx context.Context, intent stellarswap.TradeIntent, quote *stellarswap.Quote) (*stellarswap.UnsignedEnvelope, error) {
	bctx, cancel := context.WithTimeout(ctx, o.buildTimeout)
	defer cancel()

	return o.builder.BuildUnsigned(bctx, intent, quote)
}

// signAndSubmit routes an envelope through the signature gateway and the
// submission client. It is shared by the main swap and the trustline
// sub-operation; "what" labels progress and log output.
//
// Once the envelope is handed to the submission client the operation can no
// longer be cancelled: the submission context is detached from the caller's
// and bounded only by the submit timeout.
func (o *Orchestrator) signAndSubmit(ctx context.Context, run *tradeRun, env *stellarswap.UnsignedEnvelope, signer stellarswap.Signer, what string) (*stellarswap.SubmissionResult, error) {
	if err := run.to(StateAwaitingSignature, "awaiting signature for "+what); err != nil {
		return nil, err
	}

	signedXDR, err := signer.SignTransaction(ctx, env.XDR, o.networkPassphrase)
	if err != nil {
		// Signature failure or user cancellation is terminal. It reflects
		// user intent and is never retried.
		return nil, errors.NewSwapError(errors.SIGNATURE_FAILED, "signature gateway did not sign "+what, err)
	}

	// Last cancellation point before the irrevocable broadcast.
	if err := ctx.Err(); err != nil {
		return nil, cancellationError(err)
	}

	if err := run.to(StateSubmitting, "submitting "+what); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.submitTimeout)
	defer cancel()

	res, err := o.submitter.Submit(sctx, stellarswap.SignedEnvelope{
		XDR:      signedXDR,
		Source:   env.Source,
		Sequence: env.Sequence,
	})
	if err != nil {
		return nil, errors.NewSwapError(errors.UNKNOWN, "submission client failed", err)
	}
	return res, nil
}

// establishTrustline runs the ChangeTrust sub-operation: build, sign, submit.
// On success the caller restarts from quoting; the original quote is stale
// because provider-side state changed. Any sub-operation failure fails the
// whole trade.
func (o *Orchestrator) establishTrustline(ctx context.Context, run *tradeRun, intent stellarswap.TradeIntent, signer stellarswap.Signer) error {
	if err := run.to(StateTrustlineRequired, "creating trustline for "+intent.BuyAsset.String()); err != nil {
		return err
	}
	run.log.WithField("asset", intent.BuyAsset.String()).Info("creating trustline")

	bctx, cancel := context.WithTimeout(ctx, o.buildTimeout)
	env, err := o.builder.BuildTrustline(bctx, intent.Account, intent.BuyAsset)
	cancel()
	if err != nil {
		return err
	}

	res, err := o.signAndSubmit(ctx, run, env, signer, "trustline")
	if err != nil {
		return err
	}
	if !res.Successful() {
		return errors.NewSwapError(res.Reason, "trustline submission rejected", nil).
			WithContext("detail", res.Detail)
	}

	run.log.WithField("hash", res.Hash).Info("trustline established")
	return nil
}

// backoffRateLimit waits out the bounded rate-limit delay. The per-run
// limiter returns Stop once the retry budget is spent, which fails the trade.
func (o *Orchestrator) backoffRateLimit(ctx context.Context, run *tradeRun) error {
	if err := run.to(StateRateLimitedBackoff, "rate limited by provider"); err != nil {
		return err
	}

	delay := run.limiter.NextBackOff()
	if delay == backoff.Stop {
		return errors.NewSwapError(errors.RATE_LIMITED, "provider rate limit persisted after retry", nil)
	}

	run.log.WithField("delay", delay.String()).Warn("rate limited, backing off")
	select {
	case <-ctx.Done():
		return cancellationError(ctx.Err())
	case <-time.After(delay):
	}
	return nil
}

func (o *Orchestrator) fail(run *tradeRun, err error) (*stellarswap.SubmissionResult, error) {
	if run.state != StateFailed {
		if terr := run.to(StateFailed, err.Error()); terr != nil {
			run.log.WithError(terr).Error("could not enter failed state")
		}
	}
	run.log.WithError(err).WithField("reason", string(errors.CodeOf(err))).Warn("trade failed")
	return nil, err
}

// cancellationError classifies a context error: deadline expiry counts as the
// network being unreachable, while caller-initiated abandonment is wrapped as
// UNKNOWN since it is not an upstream failure at all.
func cancellationError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewSwapError(errors.NETWORK_UNREACHABLE, "trade deadline exceeded", err)
	}
	return errors.NewSwapError(errors.UNKNOWN, fmt.Sprintf("trade abandoned: %v", err), err)
}
