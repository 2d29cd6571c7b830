package idempotency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxKeyLength bounds keys to fit the idempotency_key column.
const MaxKeyLength = 200

var (
	ErrInvalidKey = errors.New("invalid idempotency key")

	validate = validator.New()
)

// Key is a validated idempotency key. Build it with ParseKey.
type Key string

// ParseKey trims raw and accepts 1..MaxKeyLength printable ASCII characters.
func ParseKey(raw string) (Key, error) {
	k := strings.TrimSpace(raw)
	if k == "" {
		return "", fmt.Errorf("%w: the idempotency key cannot be empty", ErrInvalidKey)
	}
	if len(k) > MaxKeyLength {
		return "", fmt.Errorf("%w: the idempotency key must be at most %d characters", ErrInvalidKey, MaxKeyLength)
	}
	if err := validate.Var(k, "printascii"); err != nil {
		return "", fmt.Errorf("%w: the idempotency key must contain printable ASCII characters only", ErrInvalidKey)
	}
	return Key(k), nil
}

func (k Key) String() string {
	return string(k)
}
