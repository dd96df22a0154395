package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/nodeclaim/pkg/domain"
)

const (
	totpDigits = 6
	totpPeriod = 30
	totpWindow = 1 // Allow ±30 seconds clock drift
)

// StepUp checks the moderator's one-time code before a decision is applied.
// A zero StepUp (no secret) accepts everything.
type StepUp struct {
	secret string
	now    func() time.Time
}

// NewStepUp creates a TOTP step-up check for a base32 shared secret.
func NewStepUp(secret string) *StepUp {
	return &StepUp{secret: secret, now: time.Now}
}

// Enabled reports whether a secret is configured.
func (s *StepUp) Enabled() bool {
	return s != nil && s.secret != ""
}

// Verify validates code against the current time step.
func (s *StepUp) Verify(code string) error {
	if !s.Enabled() {
		return nil
	}
	if code == "" {
		return domain.ErrOTPRequired
	}

	valid, err := totp.ValidateCustom(code, s.secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpWindow,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return domain.ErrInvalidOTP
	}
	return nil
}

// GenerateStepUpSecret creates a new moderator secret and its otpauth URL.
func GenerateStepUpSecret(issuer, account string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
