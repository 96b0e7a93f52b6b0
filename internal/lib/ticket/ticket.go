// Package ticket issues short-lived HMAC-signed tokens for the live feed,
// so browsers never carry the API key in a query string.
package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sign returns "{subject}.{expiresUnix}.{sig}".
func Sign(subject, secret string, ttl time.Duration, now time.Time) string {
	expires := now.Add(ttl).Unix()
	return fmt.Sprintf("%s.%d.%s", subject, expires, computeHMAC(subject, expires, secret))
}

// Verify checks the signature and expiry and returns the subject.
func Verify(token, secret string, now time.Time) (string, bool) {
	if secret == "" {
		return "", false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", false
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", false
	}
	if now.Unix() > exp {
		return "", false
	}
	expected := computeHMAC(parts[0], exp, secret)
	if !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return "", false
	}
	return parts[0], true
}

func computeHMAC(subject string, expires int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s:%d", subject, expires)))
	return hex.EncodeToString(mac.Sum(nil))
}
