package issuer

import (
	"crypto/rand"
	"math/big"

	"appauth-service/internal/metrics"
	apierrors "appauth-service/pkg/errors"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Credential lengths used across the protocol.
const (
	ApplicationIDDigits     = 16
	ApplicationKeyLength    = 50
	RequestTokenLength      = 64
	AccessBearerLength      = 80
	AccessTokenLength       = 80
	AuthenticationNonceSize = 64
)

// DefaultMaxAttempts bounds issuance retries before giving up with
// ISSUANCE_EXHAUSTED.
const DefaultMaxAttempts = 5

// Generate returns a random alphanumeric credential of exactly length
// characters.
func Generate(length int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = alphanumeric[n.Int64()]
	}
	return string(buf), nil
}

// NumericID returns a random integer with exactly the given number of
// digits. The leading digit is never zero, so a 16-digit id is >= 10^15 and
// round-trips through decimal text without losing width.
func NumericID(digits int) (int64, error) {
	min := int64(1)
	for i := 1; i < digits; i++ {
		min *= 10
	}
	span := big.NewInt(min*10 - min)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return min + n.Int64(), nil
}

// Attempt runs fn up to maxAttempts times, retrying only when retryable
// reports a duplicate-value conflict. The store's unique constraints are the
// sole collision authority; there is no pre-insert probing. Exhausting every
// attempt fails with ISSUANCE_EXHAUSTED.
func Attempt(maxAttempts int, retryable func(error) bool, fn func() error) error {
	var last error
	for i := 0; i < maxAttempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		last = err
	}
	metrics.IssuanceExhausted.Inc()
	return apierrors.Wrap(last, apierrors.ErrIssuanceExhausted)
}
