package registrations

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

const receiptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReceiptPattern matches receipt numbers: issue date plus four random characters.
var ReceiptPattern = regexp.MustCompile(`^\d{8}-[A-Z0-9]{4}$`)

// NewReceiptNumber returns e.g. 20260301-7QX2. The date is taken in loc.
func NewReceiptNumber(now time.Time, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	b := make([]byte, 4)
	out := make([]byte, 0, 4)
	for len(out) < 4 {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, c := range b {
			// 252 = 7 * 36; higher bytes would bias the first characters
			if c >= 252 || len(out) == 4 {
				continue
			}
			out = append(out, receiptAlphabet[int(c)%len(receiptAlphabet)])
		}
	}
	return now.In(loc).Format("20060102") + "-" + string(out), nil
}
