package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"finsys/internal/models"
	"finsys/internal/observability"
	"finsys/internal/totp"

	"github.com/raulk/clock"
	"go.opentelemetry.io/otel/attribute"
)

// Step names, used as metric labels and log fields.
const (
	StepAcquireToken      = "acquire_token"
	StepAttemptTransfer   = "attempt_transfer"
	StepVerifyChallenge   = "verify_challenge"
	StepContinueChallenge = "continue_challenge"
	StepRetryTransfer     = "retry_transfer"
	StepResolveAccount    = "resolve_account"
)

// Config holds the endpoints and the per-call policies of one Protocol.
type Config struct {
	Endpoints Endpoints
	Token     CallPolicy
	Transfer  CallPolicy
	Challenge CallPolicy
	Confirm   CallPolicy
}

// DefaultConfig returns the call policies the external service is known to
// tolerate: three token attempts, a 10s transfer, and a tighter 5s confirmed
// transfer with five attempts. Transfers only retry requests that never left.
func DefaultConfig(e Endpoints) Config {
	return Config{
		Endpoints: e,
		Token:     CallPolicy{Timeout: 10 * time.Second, Attempts: 3, RetryOn: AnyError},
		Transfer:  CallPolicy{Timeout: 10 * time.Second, Attempts: 3, RetryOn: NeverSent},
		Challenge: CallPolicy{Timeout: 10 * time.Second, Attempts: 1},
		Confirm:   CallPolicy{Timeout: 5 * time.Second, Attempts: 5, RetryOn: NeverSent},
	}
}

// Executor sends one payout.
type Executor interface {
	Execute(ctx context.Context, userID, amount int64) (*Receipt, error)
}

// CodeSource yields the current second-factor code.
type CodeSource interface {
	Code() (string, error)
}

// Receipt describes a completed payout.
type Receipt struct {
	UserID     int64
	Amount     int64
	Challenged bool
}

// Protocol runs the payout exchange:
//
//	AcquireToken -> AttemptTransfer -> 200: done
//	                                -> 403 + challenge: Verify -> Continue -> RetryTransfer
//	                                -> other: rejected
type Protocol struct {
	cfg       Config
	session   *Session
	transport *Transport
	codes     CodeSource
	log       *observability.ProtocolLogger
}

// NewProtocol builds a Protocol. Codes come from the session's TOTP secret
// read against clk, or the wall clock when clk is nil.
func NewProtocol(cfg Config, session *Session, transport *Transport, clk clock.Clock) *Protocol {
	if transport == nil {
		transport = NewTransport(nil)
	}
	return &Protocol{
		cfg:       cfg,
		session:   session,
		transport: transport,
		codes:     totp.NewGenerator(session.totpSecret, clk),
		log:       observability.NewProtocolLogger(),
	}
}

type transferRecipient struct {
	RecipientID   int64 `json:"recipientId"`
	RecipientType int   `json:"recipientType"`
	Amount        int64 `json:"amount"`
}

type transferBody struct {
	PayoutType int                 `json:"PayoutType"`
	Recipients []transferRecipient `json:"Recipients"`
}

// Execute pays amount to userID. It returns a Receipt only when a transfer
// call returned 200. Cancelling ctx never interrupts a call in flight; it
// stops the exchange before the next step and yields a Cancelled error.
func (p *Protocol) Execute(ctx context.Context, userID, amount int64) (receipt *Receipt, err error) {
	span, ctx := observability.NewSpan(ctx, "payout.execute",
		attribute.Int64("payout.recipient_id", userID),
		attribute.Int64("payout.amount", amount),
	)
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = models.CodeOf(err)
			if outcome == "" {
				outcome = "error"
			}
			span.SetError(err)
		}
		observability.PayoutExecutions.WithLabelValues(outcome).Inc()
		span.End()
	}()

	body, err := json.Marshal(transferBody{
		PayoutType: 1,
		Recipients: []transferRecipient{{RecipientID: userID, RecipientType: 0, Amount: amount}},
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	fields := map[string]interface{}{"recipient_id": userID, "amount": amount}

	cc, err := p.acquireToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.transfer(ctx, StepAttemptTransfer, p.cfg.Transfer, cc, body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		p.log.LogStep(ctx, StepAttemptTransfer, fields)
		return &Receipt{UserID: userID, Amount: amount}, nil
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get(headerChallengeMetadata) != "":
		observability.PayoutChallenges.Inc()
		p.log.LogStep(ctx, "challenge_required", fields)
	default:
		err := models.NewTransferRejectedError(resp.StatusCode, ExtractErrorReason(resp.Body))
		p.log.LogStepError(ctx, StepAttemptTransfer, err, fields)
		return nil, err
	}

	if cc, err = p.prepareChallenge(cc, resp); err != nil {
		p.log.LogStepError(ctx, "challenge_required", err, fields)
		return nil, err
	}
	if cc, err = p.verifyChallenge(ctx, cc); err != nil {
		p.log.LogStepError(ctx, StepVerifyChallenge, err, fields)
		return nil, err
	}
	if err = p.continueChallenge(ctx, cc); err != nil {
		p.log.LogStepError(ctx, StepContinueChallenge, err, fields)
		return nil, err
	}

	resp, err = p.transfer(ctx, StepRetryTransfer, p.cfg.Confirm, cc, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := models.NewTransferRejectedError(resp.StatusCode, ExtractErrorReason(resp.Body))
		p.log.LogStepError(ctx, StepRetryTransfer, err, fields)
		return nil, err
	}
	p.log.LogStep(ctx, StepRetryTransfer, fields)
	return &Receipt{UserID: userID, Amount: amount, Challenged: true}, nil
}

// begin reports a Cancelled error when the caller has given up.
func begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return models.NewCancelledError(err)
	}
	return nil
}

// transportFailure classifies an error returned by Transport.do.
func transportFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return models.NewCancelledError(err)
	}
	return models.NewTransportError(err)
}

func (p *Protocol) baseHeader(cc ChallengeContext) http.Header {
	h := http.Header{}
	h.Set("Cookie", p.session.cookieHeader())
	if cc.csrfToken != "" {
		h.Set(headerCSRFToken, cc.csrfToken)
	}
	return h
}

func (p *Protocol) acquireToken(ctx context.Context) (ChallengeContext, error) {
	var cc ChallengeContext
	if err := begin(ctx); err != nil {
		return cc, err
	}

	resp, err := p.transport.do(ctx, StepAcquireToken, p.cfg.Token, request{
		method: http.MethodPost,
		url:    p.cfg.Endpoints.logoutURL(),
		header: p.baseHeader(cc),
	})
	if err != nil {
		return cc, transportFailure(ctx, err)
	}

	token := resp.Header.Get("x-csrf-token")
	if token == "" {
		return cc, models.NewTokenAcquisitionError(
			fmt.Errorf("no x-csrf-token header in %d response", resp.StatusCode))
	}
	return cc.withCSRFToken(token), nil
}

func (p *Protocol) transfer(ctx context.Context, step string, policy CallPolicy, cc ChallengeContext, body []byte) (*Response, error) {
	if err := begin(ctx); err != nil {
		return nil, err
	}

	h := p.baseHeader(cc)
	h.Set("Content-Type", "application/json")
	if cc.challenged() {
		meta, err := cc.proofHeader()
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		h.Set(headerChallengeID, cc.headerChallengeID)
		h.Set(headerChallengeType, challengeTypeTwoStep)
		h.Set(headerChallengeMetadata, meta)
	}

	resp, err := p.transport.do(ctx, step, policy, request{
		method: http.MethodPost,
		url:    p.cfg.Endpoints.payoutURL(p.session.groupID),
		body:   body,
		header: h,
	})
	if err != nil {
		return nil, transportFailure(ctx, err)
	}
	return resp, nil
}

// prepareChallenge reads both challenge ids off the 403 and computes the code.
func (p *Protocol) prepareChallenge(cc ChallengeContext, resp *Response) (ChallengeContext, error) {
	challengeID, err := decodeChallengeMetadata(resp.Header.Get(headerChallengeMetadata))
	if err != nil {
		return cc, models.NewChallengeVerificationError("malformed challenge metadata", err)
	}
	headerID := resp.Header.Get(headerChallengeID)
	if headerID == "" {
		return cc, models.NewChallengeVerificationError("missing challenge id header", nil)
	}

	code, err := p.codes.Code()
	if err != nil {
		return cc, models.NewChallengeVerificationError("unable to generate code", err)
	}
	return cc.withChallenge(challengeID, headerID).withCode(code), nil
}

func (p *Protocol) verifyChallenge(ctx context.Context, cc ChallengeContext) (ChallengeContext, error) {
	if err := begin(ctx); err != nil {
		return cc, err
	}

	body, err := json.Marshal(map[string]string{
		"challengeId": cc.challengeID,
		"actionType":  actionTypeGeneric,
		"code":        cc.code,
	})
	if err != nil {
		return cc, models.NewInternalError(err)
	}
	h := p.baseHeader(cc)
	h.Set("Content-Type", "application/json")

	resp, err := p.transport.do(ctx, StepVerifyChallenge, p.cfg.Challenge, request{
		method: http.MethodPost,
		url:    p.cfg.Endpoints.verifyURL(p.session.accountUserID),
		body:   body,
		header: h,
	})
	if err != nil {
		return cc, transportFailure(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return cc, models.NewChallengeVerificationError(ExtractErrorReason(resp.Body),
			fmt.Errorf("verification returned status %d", resp.StatusCode))
	}

	var out struct {
		VerificationToken string `json:"verificationToken"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out.VerificationToken == "" {
		return cc, models.NewChallengeVerificationError("missing verification token", err)
	}
	return cc.withVerificationToken(out.VerificationToken), nil
}

func (p *Protocol) continueChallenge(ctx context.Context, cc ChallengeContext) error {
	if err := begin(ctx); err != nil {
		return err
	}

	meta, err := cc.proofJSON()
	if err != nil {
		return models.NewInternalError(err)
	}
	body, err := json.Marshal(map[string]string{
		"challengeId":       cc.headerChallengeID,
		"challengeType":     challengeTypeTwoStep,
		"challengeMetadata": meta,
	})
	if err != nil {
		return models.NewInternalError(err)
	}
	h := p.baseHeader(cc)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "*/*")

	resp, err := p.transport.do(ctx, StepContinueChallenge, p.cfg.Challenge, request{
		method: http.MethodPost,
		url:    p.cfg.Endpoints.continueURL(),
		body:   body,
		header: h,
	})
	if err != nil {
		return transportFailure(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.NewChallengeContinuationError(ExtractErrorReason(resp.Body),
			fmt.Errorf("continuation returned status %d", resp.StatusCode))
	}
	return nil
}

// ResolveAccount returns the id of the account that owns cookie. It is used at
// startup when the account id is not configured.
func ResolveAccount(ctx context.Context, t *Transport, e Endpoints, cookie string, policy CallPolicy) (int64, error) {
	h := http.Header{}
	h.Set("Cookie", cookieHeader(cookie))
	h.Set("Accept", "application/json")

	resp, err := t.do(ctx, StepResolveAccount, policy, request{
		method: http.MethodGet,
		url:    e.authenticatedUserURL(),
		header: h,
	})
	if err != nil {
		return 0, transportFailure(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		reason := ExtractErrorReason(resp.Body)
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return 0, fmt.Errorf("resolve payout account: status %d: %s", resp.StatusCode, reason)
	}

	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return 0, fmt.Errorf("resolve payout account: %w", err)
	}
	if out.ID <= 0 {
		return 0, fmt.Errorf("resolve payout account: no id in response")
	}
	return out.ID, nil
}
