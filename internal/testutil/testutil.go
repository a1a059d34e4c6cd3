// Package testutil holds small assertion helpers and RFC822 builders shared
// across test packages.
package testutil

import (
	"strings"
	"testing"
)

// AssertStrings compares two string slices element-by-element.
func AssertStrings(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("got len %d, want %d: %v", len(got), len(want), got)
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("at index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

// MustNoErr fails the test immediately if err is non-nil.
// Use this for setup operations where failure means the test cannot proceed.
func MustNoErr(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// EML builds a raw RFC822 message with CRLF line endings from header lines
// and a body. Header lines are given without terminators.
func EML(headers []string, body string) []byte {
	var sb strings.Builder
	for _, h := range headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

// SimpleEML builds a minimal message with the standard identity headers.
func SimpleEML(from, to, subject, messageID, body string) []byte {
	headers := []string{
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
	}
	if messageID != "" {
		headers = append(headers, "Message-ID: "+messageID)
	}
	return EML(headers, body)
}
