package verify

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/tendant/nodeclaim/pkg/domain"
)

const (
	// MinChallengeLength and MaxChallengeLength bound every accepted challenge.
	MinChallengeLength = 20
	MaxChallengeLength = 128

	// DefaultChallengeLength is used when no length is configured.
	DefaultChallengeLength = 40

	challengeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenerateChallenge returns a uniformly random alphanumeric token of length n
// read from crypto/rand.
func GenerateChallenge(n int) (string, error) {
	if n < MinChallengeLength || n > MaxChallengeLength {
		return "", fmt.Errorf("challenge length %d outside [%d, %d]", n, MinChallengeLength, MaxChallengeLength)
	}

	max := big.NewInt(int64(len(challengeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		out[i] = challengeAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// ValidateChallengeFormat rejects anything that is not 20-128 ASCII letters or digits.
func ValidateChallengeFormat(challenge string) error {
	if len(challenge) < MinChallengeLength || len(challenge) > MaxChallengeLength {
		return domain.ErrInvalidChallengeFormat
	}
	for i := 0; i < len(challenge); i++ {
		c := challenge[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return domain.ErrInvalidChallengeFormat
		}
	}
	return nil
}
