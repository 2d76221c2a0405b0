// Package phone canonicalizes contact numbers so that records created by
// an administrator match numbers shared from a chat client.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("invalid phone number")

type Normalizer struct {
	region string
}

// NewNormalizer uses region for numbers written without a country code.
func NewNormalizer(region string) *Normalizer {
	return &Normalizer{region: strings.ToUpper(strings.TrimSpace(region))}
}

// Canonical returns the E.164 form of raw.
func (n *Normalizer) Canonical(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidNumber
	}

	// chat clients share contacts without the leading plus
	if !strings.HasPrefix(raw, "+") && !strings.HasPrefix(raw, "0") && len(raw) > 10 {
		raw = "+" + raw
	}

	num, err := phonenumbers.Parse(raw, n.region)
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Mask hides all but the last digits for log output.
func Mask(canonical string) string {
	if len(canonical) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(canonical)-4) + canonical[len(canonical)-4:]
}
