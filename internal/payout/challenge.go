package payout

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	headerCSRFToken         = "X-CSRF-TOKEN"
	headerChallengeID       = "rblx-challenge-id"
	headerChallengeMetadata = "rblx-challenge-metadata"
	headerChallengeType     = "rblx-challenge-type"

	challengeTypeTwoStep = "twostepverification"
	actionTypeGeneric    = "Generic"
)

// ChallengeContext is the state one execution accumulates. It is a value:
// every step receives a copy and returns a new one, and nothing outlives the
// execution.
//
// Two challenge ids are in play. challengeID comes from the decoded metadata
// header and is what the verification endpoint expects; headerChallengeID
// comes from the companion transport header and is what the continuation
// call and the confirmed transfer expect.
type ChallengeContext struct {
	csrfToken         string
	challengeID       string
	headerChallengeID string
	code              string
	verificationToken string
}

func (c ChallengeContext) withCSRFToken(token string) ChallengeContext {
	c.csrfToken = token
	return c
}

func (c ChallengeContext) withChallenge(challengeID, headerChallengeID string) ChallengeContext {
	c.challengeID = challengeID
	c.headerChallengeID = headerChallengeID
	return c
}

func (c ChallengeContext) withCode(code string) ChallengeContext {
	c.code = code
	return c
}

func (c ChallengeContext) withVerificationToken(token string) ChallengeContext {
	c.verificationToken = token
	return c
}

// challenged reports whether the context carries a completed challenge.
func (c ChallengeContext) challenged() bool {
	return c.verificationToken != ""
}

// proof is the verification payload sent to the continuation endpoint and,
// base64 encoded, on the confirmed transfer.
type proof struct {
	VerificationToken string `json:"verificationToken"`
	RememberDevice    bool   `json:"rememberDevice"`
	ChallengeID       string `json:"challengeId"`
	ActionType        string `json:"actionType"`
}

func (c ChallengeContext) proof() proof {
	return proof{
		VerificationToken: c.verificationToken,
		RememberDevice:    true,
		ChallengeID:       c.challengeID,
		ActionType:        actionTypeGeneric,
	}
}

func (c ChallengeContext) proofJSON() (string, error) {
	data, err := json.Marshal(c.proof())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c ChallengeContext) proofHeader() (string, error) {
	raw, err := c.proofJSON()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

var errNoChallengeID = errors.New("challenge metadata has no challengeId")

// decodeChallengeMetadata extracts challengeId from the base64 JSON header value.
func decodeChallengeMetadata(header string) (string, error) {
	header = strings.TrimSpace(header)
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(header)
		if err != nil {
			return "", fmt.Errorf("decode challenge metadata: %w", err)
		}
	}

	var meta struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("parse challenge metadata: %w", err)
	}
	if meta.ChallengeID == "" {
		return "", errNoChallengeID
	}
	return meta.ChallengeID, nil
}

// ExtractErrorReason returns the first non-empty errors[].message of a JSON
// error body, or "" when the body has none or is not JSON.
func ExtractErrorReason(body []byte) string {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, e := range payload.Errors {
		if e.Message != "" {
			return e.Message
		}
	}
	return ""
}
