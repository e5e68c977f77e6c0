package badgetokens

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aura-conference/backend/internal/models"
)

const (
	// TokenPrefix starts every badge token.
	TokenPrefix = "TKN-"
	// TokenLength is the full token length including the prefix.
	TokenLength = 32

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// largest multiple of len(alphabet) that fits in a byte; bytes above are rejected
	// so every character is equally likely.
	rejectAbove = 256 - 256%len(alphabet)
)

// NewToken returns a random badge token, e.g. TKN-4fZq...
func NewToken() (string, error) {
	n := TokenLength - len(TokenPrefix)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectAbove {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return TokenPrefix + string(out), nil
}

// ValidFormat reports whether s looks like a badge token.
func ValidFormat(s string) bool {
	if len(s) != TokenLength || !strings.HasPrefix(s, TokenPrefix) {
		return false
	}
	for i := len(TokenPrefix); i < len(s); i++ {
		if !strings.ContainsRune(alphabet, rune(s[i])) {
			return false
		}
	}
	return true
}

// ExpiresAt is the day after the conference ends, or now+fallback when the end date is
// unknown or already that far in the past.
func ExpiresAt(conf *models.Conference, now time.Time, fallback time.Duration) time.Time {
	if conf != nil && conf.EndDate != nil {
		if t := conf.EndDate.AddDate(0, 0, 1); t.After(now) {
			return t
		}
	}
	return now.Add(fallback)
}

// PrepLink builds the badge-preparation page URL for a token.
func PrepLink(baseURL, token string) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "token=" + url.QueryEscape(token)
}
