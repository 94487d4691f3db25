// Package payout executes group payouts against the external account service,
// including its anti-forgery token and two-step challenge round trips.
package payout

import (
	"fmt"
	"strings"
)

// Endpoints are the base URLs of the external hosts the protocol talks to.
type Endpoints struct {
	Auth      string
	Groups    string
	TwoStep   string
	Challenge string
	Users     string
}

func (e Endpoints) logoutURL() string {
	return trim(e.Auth) + "/v2/logout"
}

func (e Endpoints) payoutURL(groupID int64) string {
	return fmt.Sprintf("%s/v1/groups/%d/payouts", trim(e.Groups), groupID)
}

func (e Endpoints) verifyURL(accountUserID int64) string {
	return fmt.Sprintf("%s/v1/users/%d/challenges/authenticator/verify", trim(e.TwoStep), accountUserID)
}

func (e Endpoints) continueURL() string {
	return trim(e.Challenge) + "/challenge/v1/continue"
}

func (e Endpoints) authenticatedUserURL() string {
	return trim(e.Users) + "/v1/users/authenticated"
}

func trim(u string) string { return strings.TrimRight(u, "/") }

// Session is the identity payouts are sent from. It is built once at startup
// and shared read-only by every execution.
type Session struct {
	cookie        string
	totpSecret    string
	groupID       int64
	accountUserID int64
}

// NewSession validates and returns a Session.
func NewSession(cookie, totpSecret string, groupID, accountUserID int64) (*Session, error) {
	switch {
	case cookie == "":
		return nil, fmt.Errorf("payout session: cookie is required")
	case totpSecret == "":
		return nil, fmt.Errorf("payout session: TOTP secret is required")
	case groupID <= 0:
		return nil, fmt.Errorf("payout session: group id must be positive")
	case accountUserID <= 0:
		return nil, fmt.Errorf("payout session: account user id must be positive")
	}
	return &Session{
		cookie:        cookie,
		totpSecret:    totpSecret,
		groupID:       groupID,
		accountUserID: accountUserID,
	}, nil
}

// GroupID is the group payouts are drawn from.
func (s *Session) GroupID() int64 { return s.groupID }

// AccountUserID is the id of the account that owns the cookie.
func (s *Session) AccountUserID() int64 { return s.accountUserID }

func (s *Session) cookieHeader() string {
	return cookieHeader(s.cookie)
}

func cookieHeader(cookie string) string {
	return ".ROBLOSECURITY=" + cookie
}

// String keeps credentials out of logs.
func (s *Session) String() string {
	return fmt.Sprintf("payout.Session{group=%d account=%d}", s.groupID, s.accountUserID)
}
