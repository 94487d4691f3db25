package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"finsys/internal/config"
	"finsys/internal/middleware"
	"finsys/internal/payout"

	"github.com/raulk/clock"
)

// PayoutConfig translates the flat configuration into protocol call policies.
func PayoutConfig(cfg *config.Config) payout.Config {
	pc := payout.DefaultConfig(payout.Endpoints{
		Auth:      cfg.AuthBaseURL,
		Groups:    cfg.GroupsBaseURL,
		TwoStep:   cfg.TwoStepBaseURL,
		Challenge: cfg.ChallengeBaseURL,
		Users:     cfg.UsersBaseURL,
	})
	pc.Token.Timeout, pc.Token.Attempts = cfg.TokenTimeout, cfg.TokenAttempts
	pc.Transfer.Timeout, pc.Transfer.Attempts = cfg.TransferTimeout, cfg.TransferAttempts
	pc.Challenge.Timeout = cfg.ChallengeTimeout
	pc.Confirm.Timeout, pc.Confirm.Attempts = cfg.ConfirmTimeout, cfg.ConfirmAttempts
	return pc
}

// NewExecutor builds the payout protocol for the configured account. When no
// account id is configured it is resolved from the session cookie.
func NewExecutor(ctx context.Context, cfg *config.Config, transport *payout.Transport) (*payout.Protocol, error) {
	if transport == nil {
		transport = payout.NewTransport(nil)
	}
	pc := PayoutConfig(cfg)

	accountID := cfg.AccountUserID
	if accountID == 0 && cfg.SessionCookie != "" {
		id, err := payout.ResolveAccount(ctx, transport, pc.Endpoints, cfg.SessionCookie, pc.Token)
		if err != nil {
			return nil, err
		}
		accountID = id
		middleware.Logger.Info("Resolved payout account", slog.Int64("account_user_id", accountID))
	}

	session, err := payout.NewSession(cfg.SessionCookie, cfg.TOTPSecret, cfg.PayoutGroupID, accountID)
	if err != nil {
		return nil, fmt.Errorf("invalid payout session: %w", err)
	}
	return payout.NewProtocol(pc, session, transport, clock.New()), nil
}
