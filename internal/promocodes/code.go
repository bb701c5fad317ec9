package promocodes

import (
	"crypto/rand"
	"io"
	"strings"
)

// codeAlphabet avoids look-alike characters (O/0, I/1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NormalizeCode trims and upper-cases a submitted code. Stored codes are always normalized.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// generateCode returns a random code formatted as XXXX-XXXX-XXXX.
func generateCode() (string, error) {
	const codeLength = 12
	buf := make([]byte, codeLength)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf[0:4]) + "-" + string(buf[4:8]) + "-" + string(buf[8:12]), nil
}
