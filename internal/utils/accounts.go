package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// GenerateAccountNumber generates an account number with the specified
// prefix and length
func GenerateAccountNumber(prefix string, length int) (string, error) {
	if length < len(prefix) || length > 24 {
		return "", fmt.Errorf("invalid account number length: %d", length)
	}

	// Generate random digits
	digits := make([]byte, length-len(prefix))
	_, err := rand.Read(digits)
	if err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range digits {
		digit := b%10 + '0' // Convert to ASCII digit
		builder.WriteByte(digit)
	}

	accountNumber := builder.String()
	if len(accountNumber) != length {
		return "", fmt.Errorf("generated account number has incorrect length: got %d, want %d", len(accountNumber), length)
	}

	return accountNumber, nil
}
