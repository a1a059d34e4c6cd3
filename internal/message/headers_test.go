package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vectorfy/migratemail/internal/testutil"
)

func TestNormalizeMessageID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"plain id gets wrapped", "abc@example.com", "<abc@example.com>"},
		{"angle brackets kept", "<abc@example.com>", "<abc@example.com>"},
		{"lowercased", "<ABC@Example.COM>", "<abc@example.com>"},
		{"truncated at whitespace", "<ABC@example.com> (added by gateway)", "<abc@example.com>"},
		{"surrounding space trimmed", "  <id-1@host>  ", "<id-1@host>"},
		{"empty brackets", "<>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMessageID(tt.input); got != tt.want {
				t.Errorf("NormalizeMessageID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMinimalHeaders(t *testing.T) {
	raw := testutil.EML([]string{
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"From: Alice <alice@example.com>",
		"To: bob@example.com",
		"Cc: carol@example.com",
		"Subject: Quarterly numbers",
		"Message-ID: <MSG-1@Example.Com>",
		"Delivered-To: bob@example.com",
	}, "The body.\r\n")

	h := ParseMinimalHeaders(raw)

	if h.From != "Alice <alice@example.com>" {
		t.Errorf("From = %q", h.From)
	}
	if h.To != "bob@example.com" {
		t.Errorf("To = %q", h.To)
	}
	if h.Subject != "Quarterly numbers" {
		t.Errorf("Subject = %q", h.Subject)
	}
	if h.MessageIDNorm != "<msg-1@example.com>" {
		t.Errorf("MessageIDNorm = %q", h.MessageIDNorm)
	}
	if h.DeliveredTo != "bob@example.com" {
		t.Errorf("DeliveredTo = %q", h.DeliveredTo)
	}
	// -0700 normalizes to UTC.
	if h.DateISO != "2006-01-02T22:04:05Z" {
		t.Errorf("DateISO = %q", h.DateISO)
	}
}

func TestParseMinimalHeadersFoldedHeader(t *testing.T) {
	raw := []byte("Subject: a very\r\n long subject\r\nFrom: x@y.com\r\n\r\nbody")
	h := ParseMinimalHeaders(raw)
	if h.Subject != "a very long subject" {
		t.Errorf("Subject = %q", h.Subject)
	}
}

func TestParseMinimalHeadersMissingHeaders(t *testing.T) {
	h := ParseMinimalHeaders([]byte("X-Nothing: here\r\n\r\nbody"))
	if h.From != "" || h.To != "" || h.Subject != "" || h.MessageIDNorm != "" {
		t.Errorf("expected empty fields, got %+v", h)
	}
	if h.DateISO != "" {
		t.Errorf("DateISO = %q for missing Date", h.DateISO)
	}
}

func TestBodyPrefix(t *testing.T) {
	raw := []byte("From: a@b.c\r\n\r\nhello world")

	if got := string(BodyPrefix(raw, 5)); got != "hello" {
		t.Errorf("BodyPrefix(5) = %q", got)
	}
	if got := string(BodyPrefix(raw, 1000)); got != "hello world" {
		t.Errorf("BodyPrefix(1000) = %q", got)
	}
	if got := BodyPrefix(raw, 0); got != nil {
		t.Errorf("BodyPrefix(0) = %q, want nil", got)
	}

	// No blank line: the raw prefix stands in for the body.
	noSplit := []byte("just some bytes")
	if got := string(BodyPrefix(noSplit, 4)); got != "just" {
		t.Errorf("BodyPrefix without split = %q", got)
	}
}

func TestExtractAddresses(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"bare address", "bob@example.com", []string{"bob@example.com"}},
		{"display name", `"Bob B." <Bob@Example.com>`, []string{"bob@example.com"}},
		{
			"list",
			"a@x.com, B <b@x.com>",
			[]string{"a@x.com", "b@x.com"},
		},
		{
			"malformed falls back to regex",
			"garbage <<a@x.com>> ;; b@y.org,",
			[]string{"a@x.com", "b@y.org"},
		},
		{"duplicates collapse", "a@x.com, A@X.COM", []string{"a@x.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAddresses(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractAddresses(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}
