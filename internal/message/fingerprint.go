package message

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"
)

// Fingerprint is the content-derived identity of a message.
type Fingerprint struct {
	Digest        string // hex SHA-256
	MessageIDNorm string // normalized Message-ID, "" when absent
	Headers       MinimalHeaders
}

// Compute derives a stable fingerprint for raw RFC822 bytes. The digest
// covers the normalized date (or raw date), From, To, Subject, the decimal
// byte length, and the first bodyPrefixBytes of the body. Identical bytes
// always produce identical digests.
func Compute(raw []byte, bodyPrefixBytes int) Fingerprint {
	h := ParseMinimalHeaders(raw)

	date := h.DateISO
	if date == "" {
		date = h.DateRaw
	}
	canonical := strings.Join([]string{
		date,
		h.From,
		h.To,
		h.Subject,
		strconv.Itoa(len(raw)),
	}, "\n")

	hasher := sha256.New()
	hasher.Write([]byte(canonical))
	hasher.Write([]byte{'\n'})
	hasher.Write(BodyPrefix(raw, bodyPrefixBytes))

	return Fingerprint{
		Digest:        hex.EncodeToString(hasher.Sum(nil)),
		MessageIDNorm: h.MessageIDNorm,
		Headers:       h,
	}
}

// SHA256Hex returns the hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File streams a file through SHA-256 and returns the hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
