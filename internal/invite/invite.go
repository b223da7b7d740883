// ABOUTME: Invite code generation and offline validation
// ABOUTME: Codes are FRPT-XXXX-XXXX with a Luhn-style check character

package invite

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// charset drops I, L and O plus the digits 0 and 1 so codes survive being
// read aloud or retyped from a screenshot.
const charset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const bodyLen = 7

var codePattern = regexp.MustCompile(`^FRPT-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

// checksum computes the Luhn-style check character over the code body,
// doubling every second position from the right and folding overflow back
// into the charset range. Returns false if the body contains a character
// outside the charset.
func checksum(body string) (byte, bool) {
	p := len(body) % 2
	s := 0
	for i := 0; i < len(body); i++ {
		d := strings.IndexByte(charset, body[i])
		if d < 0 {
			return 0, false
		}
		if i%2 == p {
			d *= 2
			if d >= len(charset) {
				d = d%len(charset) + d/len(charset)
			}
		}
		s += d
	}
	return charset[(s*9)%len(charset)], true
}

// Generate mints a fresh invite code in FRPT-XXXX-XXXX form.
func Generate() (string, error) {
	body := make([]byte, bodyLen)
	max := big.NewInt(int64(len(charset)))
	for i := range body {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating invite code: %w", err)
		}
		body[i] = charset[n.Int64()]
	}
	check, _ := checksum(string(body))
	full := string(body) + string(check)
	return fmt.Sprintf("FRPT-%s-%s", full[:4], full[4:]), nil
}

// Validate reports whether the code is well-formed and its check character
// matches. It never touches storage, so a typo is caught before any
// database round trip.
func Validate(code string) bool {
	if !codePattern.MatchString(code) {
		return false
	}
	body := strings.ReplaceAll(strings.TrimPrefix(code, "FRPT-"), "-", "")
	check, ok := checksum(body[:len(body)-1])
	if !ok {
		return false
	}
	return check == body[len(body)-1]
}
