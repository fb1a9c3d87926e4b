// Package submitter implements the stellarswap.SubmissionClient capability
// against a Horizon server.
//
// This is the only component in the SDK that performs a mutating,
// non-idempotent external action. It broadcasts exactly once per call,
// audit-logs the hash and outcome, and classifies the raw Horizon response
// into the errors package taxonomy. It never retries; retries are an
// orchestrator decision.
package submitter

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"
	"github.com/stellar/go/support/log"

	stellarswap "github.com/stellar-connect/swap-sdk-go"
	"github.com/stellar-connect/swap-sdk-go/errors"
)

// horizonSubmitClient is the slice of the Horizon client the submitter uses.
type horizonSubmitClient interface {
	SubmitTransactionXDR(transactionXdr string) (hProtocol.Transaction, error)
}

// HorizonSubmitter submits signed envelopes to a Horizon server.
type HorizonSubmitter struct {
	client horizonSubmitClient
	logger *log.Entry
}

// SubmitterOption configures a HorizonSubmitter.
type SubmitterOption func(*HorizonSubmitter)

// WithLogger sets the audit logger.
func WithLogger(logger *log.Entry) SubmitterOption {
	return func(s *HorizonSubmitter) {
		s.logger = logger
	}
}

// WithHorizonClient replaces the Horizon client. Intended for tests and
// callers that share one client.
func WithHorizonClient(client horizonSubmitClient) SubmitterOption {
	return func(s *HorizonSubmitter) {
		s.client = client
	}
}

// NewHorizonSubmitter creates a submission client for the given Horizon URL.
func NewHorizonSubmitter(horizonURL string, opts ...SubmitterOption) *HorizonSubmitter {
	submitter := &HorizonSubmitter{
		client: &horizonclient.Client{HorizonURL: horizonURL},
		logger: log.New(),
	}

	for _, opt := range opts {
		opt(submitter)
	}

	return submitter
}

// Submit broadcasts the envelope exactly once and classifies the outcome.
// The caller is responsible for never calling Submit twice with the same
// envelope. The Horizon call itself is not interruptible, so Submit runs it
// on its own goroutine and reports NETWORK_UNREACHABLE if ctx expires first;
// a late definitive outcome is still audit-logged.
func (s *HorizonSubmitter) Submit(ctx context.Context, envelope stellarswap.SignedEnvelope) (*stellarswap.SubmissionResult, error) {
	if envelope.XDR == "" {
		return nil, errors.NewSubmitError(errors.VALIDATION_REJECTED, "empty envelope", nil)
	}

	auditLog := s.logger.WithFields(log.F{
		"source":   envelope.Source,
		"sequence": envelope.Sequence,
	})

	type outcome struct {
		tx  hProtocol.Transaction
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		tx, err := s.client.SubmitTransactionXDR(envelope.XDR)
		done <- outcome{tx: tx, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// Broadcast may still land; log the late outcome for audit.
			out := <-done
			if out.err != nil {
				auditLog.WithError(out.err).Warn("late submission outcome after timeout")
				return
			}
			auditLog.WithField("hash", out.tx.Hash).Warn("transaction landed after submission timeout")
		}()
		auditLog.WithError(ctx.Err()).Error("submission outcome unknown")
		return &stellarswap.SubmissionResult{
			Reason: errors.NETWORK_UNREACHABLE,
			Detail: "no definitive response before deadline: " + ctx.Err().Error(),
		}, nil
	case out := <-done:
		if out.err != nil {
			reason, detail := classify(out.err)
			auditLog.WithFields(log.F{
				"reason": string(reason),
				"detail": detail,
			}).Warn("submission rejected")
			return &stellarswap.SubmissionResult{Reason: reason, Detail: detail}, nil
		}

		auditLog.WithFields(log.F{
			"hash":   out.tx.Hash,
			"ledger": out.tx.Ledger,
		}).Info("transaction submitted")
		return &stellarswap.SubmissionResult{
			Hash:   out.tx.Hash,
			Ledger: out.tx.Ledger,
		}, nil
	}
}

// classify maps a Horizon submission error into the closed taxonomy.
// Unparseable failures map to UNKNOWN rather than being swallowed: blind
// retry of an unclassified failure risks double-submission.
func classify(err error) (errors.Code, string) {
	if herr := horizonclient.GetError(err); herr != nil {
		detail := herr.Problem.Title
		if herr.Problem.Detail != "" {
			detail = herr.Problem.Detail
		}

		switch herr.Problem.Status {
		case http.StatusTooManyRequests:
			return errors.RATE_LIMITED, detail
		case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
			// Horizon timed out or shed load; the outcome is indeterminate.
			return errors.NETWORK_UNREACHABLE, detail
		}

		if codes, cerr := herr.ResultCodes(); cerr == nil {
			if code, ok := classifyResultCodes(codes); ok {
				return code, resultDetail(detail, codes)
			}
		}

		if herr.Problem.Status == http.StatusBadRequest {
			return errors.VALIDATION_REJECTED, detail
		}
		return errors.UNKNOWN, detail
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NETWORK_UNREACHABLE, err.Error()
	}

	return errors.UNKNOWN, err.Error()
}

func classifyResultCodes(codes *hProtocol.TransactionResultCodes) (errors.Code, bool) {
	switch codes.TransactionCode {
	case "tx_bad_seq":
		return errors.SEQUENCE_CONFLICT, true
	case "tx_no_source_account":
		return errors.ACCOUNT_UNKNOWN, true
	}

	for _, op := range codes.OperationCodes {
		switch op {
		case "op_no_trust", "op_not_authorized":
			return errors.TRUSTLINE_REQUIRED, true
		case "op_no_destination":
			return errors.ACCOUNT_UNKNOWN, true
		}
	}

	if codes.TransactionCode != "" {
		return errors.VALIDATION_REJECTED, true
	}
	return errors.UNKNOWN, false
}

func resultDetail(detail string, codes *hProtocol.TransactionResultCodes) string {
	out := detail + " (" + codes.TransactionCode
	for _, op := range codes.OperationCodes {
		out += ", " + op
	}
	return out + ")"
}

// Verify that HorizonSubmitter implements stellarswap.SubmissionClient
var _ stellarswap.SubmissionClient = (*HorizonSubmitter)(nil)
