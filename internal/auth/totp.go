// Package auth generates one-time passcodes for login scripts that reference
// the {{credentials.totp}} placeholder.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var defaultOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    6,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateTOTP produces the current 6-digit code for a base32 secret.
// Whitespace and case in the secret are normalized first.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("totp secret cannot be empty")
	}
	clean := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	code, err := totp.GenerateCodeCustom(clean, time.Now().UTC(), defaultOpts)
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// validateTOTP checks a passcode against a base32 secret within the default
// skew window. Kept as the test-side inverse of GenerateTOTP.
func validateTOTP(passcode, secret string) (bool, error) {
	if secret == "" {
		return false, fmt.Errorf("totp secret cannot be empty")
	}
	if passcode == "" {
		return false, fmt.Errorf("passcode cannot be empty")
	}
	clean := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	ok, err := totp.ValidateCustom(passcode, clean, time.Now().UTC(), defaultOpts)
	if err != nil {
		return false, fmt.Errorf("validate totp code: %w", err)
	}
	return ok, nil
}
