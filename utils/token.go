package utils

import (
	"crypto/rand"
	"math/big"
)

const (
	SubscriptionTokenLength = 25
	tokenAlphabet           = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewSubscriptionToken returns a random alphanumeric confirmation token.
func NewSubscriptionToken() (string, error) {
	b := make([]byte, SubscriptionTokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// IsSubscriptionToken reports whether s has the shape of a token from NewSubscriptionToken.
func IsSubscriptionToken(s string) bool {
	if len(s) != SubscriptionTokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
