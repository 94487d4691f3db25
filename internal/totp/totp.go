// Package totp produces the six-digit codes answered to two-step challenges.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/raulk/clock"
)

var opts = totp.ValidateOpts{
	Period:    30,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Generate returns the RFC 6238 code for a base32 secret at time t.
// Lowercase secrets, embedded spaces and missing padding are accepted.
func Generate(secret string, t time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	if secret == "" {
		return "", fmt.Errorf("totp: empty secret")
	}
	code, err := totp.GenerateCodeCustom(secret, t, opts)
	if err != nil {
		return "", fmt.Errorf("totp: %w", err)
	}
	return code, nil
}

// Generator binds a secret to a clock.
type Generator struct {
	secret string
	clock  clock.Clock
}

// NewGenerator returns a Generator reading time from clk, or the wall clock if nil.
func NewGenerator(secret string, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	return &Generator{secret: secret, clock: clk}
}

// Code returns the code for the current step.
func (g *Generator) Code() (string, error) {
	return Generate(g.secret, g.clock.Now())
}
