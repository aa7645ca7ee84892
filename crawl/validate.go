package crawl

import (
	"fmt"
	"net/mail"
	"strings"
)

const (
	maxURLLen   = 4096
	maxEmailLen = 254
)

// validateEmail checks that s is a single bare address and returns it
// trimmed. Display-name forms ("Ops <ops@x>") are reduced to the address.
func validateEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if len(s) > maxEmailLen {
		return "", fmt.Errorf("%w: email exceeds %d characters", ErrInvalidInput, maxEmailLen)
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: email: %v", ErrInvalidInput, err)
	}
	return addr.Address, nil
}
