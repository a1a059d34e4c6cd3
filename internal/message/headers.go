// Package message parses the minimal header set used for fingerprinting,
// duplicate detection, and address filtering.
package message

import (
	"bytes"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// MinimalHeaders is the fixed header set extracted from a raw message.
// Values are RFC 2047-decoded on a best-effort basis; an undecodable
// value passes through unchanged. Empty string means the header is absent.
type MinimalHeaders struct {
	DateRaw       string
	DateISO       string // RFC 3339 UTC form of DateRaw when parseable
	From          string
	To            string
	Cc            string
	Bcc           string
	DeliveredTo   string
	XOriginalTo   string
	EnvelopeTo    string
	Subject       string
	MessageIDNorm string
}

var headerBodySplitRe = regexp.MustCompile(`\r?\n\r?\n`)

// ParseMinimalHeaders extracts the minimal header set from raw RFC822 bytes.
// Parsing never fails: a message that enmime cannot read yields raw,
// undecoded header values instead.
func ParseMinimalHeaders(raw []byte) MinimalHeaders {
	get := rawHeaderGetter(raw)
	if env, err := enmime.ReadEnvelope(bytes.NewReader(raw)); err == nil {
		get = env.GetHeader
	}

	h := MinimalHeaders{
		DateRaw:       get("Date"),
		From:          get("From"),
		To:            get("To"),
		Cc:            get("Cc"),
		Bcc:           get("Bcc"),
		DeliveredTo:   get("Delivered-To"),
		XOriginalTo:   get("X-Original-To"),
		EnvelopeTo:    get("Envelope-To"),
		Subject:       get("Subject"),
		MessageIDNorm: NormalizeMessageID(get("Message-ID")),
	}
	if h.DateRaw != "" {
		if t, ok := parseDate(h.DateRaw); ok {
			h.DateISO = t.Format(time.RFC3339)
		}
	}
	return h
}

// rawHeaderGetter reads header values directly from the header block without
// MIME machinery, for messages enmime refuses to parse. Continuation lines
// are unfolded; no RFC 2047 decoding is attempted.
func rawHeaderGetter(raw []byte) func(string) string {
	headerBlock := raw
	if loc := headerBodySplitRe.FindIndex(raw); loc != nil {
		headerBlock = raw[:loc[0]]
	}

	values := make(map[string]string)
	var lastKey string
	for _, line := range strings.Split(string(headerBlock), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if lastKey != "" {
				values[lastKey] += " " + strings.TrimSpace(line)
			}
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			lastKey = ""
			continue
		}
		lastKey = strings.ToLower(strings.TrimSpace(line[:idx]))
		if _, seen := values[lastKey]; !seen {
			values[lastKey] = strings.TrimSpace(line[idx+1:])
		}
	}
	return func(name string) string {
		return values[strings.ToLower(name)]
	}
}

// NormalizeMessageID canonicalizes a Message-ID header value: truncate at the
// first whitespace, strip one enclosing pair of angle brackets, lowercase the
// interior, re-wrap. Returns "" for blank input.
func NormalizeMessageID(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if idx := strings.IndexAny(v, " \t"); idx >= 0 {
		v = strings.TrimSpace(v[:idx])
	}
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if v == "" {
		return ""
	}
	return "<" + strings.ToLower(v) + ">"
}

// BodyPrefix returns up to max bytes of the body, i.e. the bytes following
// the first blank line. If the message has no header/body split the raw
// prefix is returned instead.
func BodyPrefix(raw []byte, max int) []byte {
	if max <= 0 {
		return nil
	}
	loc := headerBodySplitRe.FindIndex(raw)
	if loc == nil {
		if len(raw) > max {
			return raw[:max]
		}
		return raw
	}
	body := raw[loc[1]:]
	if len(body) > max {
		return body[:max]
	}
	return body
}

// ExtractAddresses pulls lowercased email addresses out of an address header
// value, handling display names, angle brackets, and comma-separated lists.
// Results are sorted for deterministic output.
func ExtractAddresses(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	seen := make(map[string]bool)
	if list, err := mail.ParseAddressList(value); err == nil {
		for _, addr := range list {
			if a := strings.ToLower(strings.TrimSpace(addr.Address)); a != "" {
				seen[a] = true
			}
		}
	} else {
		// Malformed lists still often contain recognizable addresses.
		for _, a := range addressRe.FindAllString(value, -1) {
			seen[strings.ToLower(a)] = true
		}
	}

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

var addressRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// dateFormats lists common email date formats for parseDate.
var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
}

// parseDate attempts to parse an RFC 5322 date in various real-world formats.
// Returns the time in UTC so the normalized form is stable across reruns.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")

	// Strip a trailing timezone name in parentheses like "(UTC)" but keep
	// the numeric offset for parsing.
	baseStr := s
	if idx := strings.LastIndex(s, "("); idx > 0 {
		baseStr = strings.TrimSpace(s[:idx])
	}

	if t, err := mail.ParseDate(baseStr); err == nil {
		return t.UTC(), true
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, baseStr); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
