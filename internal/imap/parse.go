package imap

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap/utf7"
)

var (
	listMailboxRe  = regexp.MustCompile(`^\* LIST \([^)]*\)\s+(NIL|"[^"]*"|\S+)\s+(.+)$`)
	literalRe      = regexp.MustCompile(`^\{(\d+)\}$`)
	fetchLiteralRe = regexp.MustCompile(`\{(\d+)\}$`)
	uidvalidityRe  = regexp.MustCompile(`\[UIDVALIDITY (\d+)\]`)
	uidnextRe      = regexp.MustCompile(`\[UIDNEXT (\d+)\]`)
	existsRe       = regexp.MustCompile(`(?i)\* (\d+) EXISTS`)
)

// SelectInfo holds the metadata extracted from a SELECT response. Zero
// values mean the server did not report the field.
type SelectInfo struct {
	Mailbox     string
	UIDValidity int64
	UIDNext     int64
	Exists      int64
}

// ParseListResponse extracts mailbox names from LIST response lines. The
// delimiter may be NIL or quoted; names may be quoted strings with escapes,
// bare atoms, or {N} literals whose payload is the following line. Names are
// de-duplicated preserving first-seen order.
func ParseListResponse(lines [][]byte) []string {
	var out []string
	for idx := 0; idx < len(lines); idx++ {
		line := bytes.TrimSpace(lines[idx])
		if bytes.HasPrefix(line, []byte("+")) {
			continue
		}
		// Some servers omit the "* LIST" prefix on continuation output.
		if bytes.HasPrefix(line, []byte("(")) {
			line = append([]byte("* LIST "), line...)
		}
		m := listMailboxRe.FindSubmatch(line)
		if m == nil {
			continue
		}

		nameToken := bytes.TrimSpace(m[2])
		if bytes.IndexByte(nameToken, '"') != -1 {
			first := bytes.IndexByte(nameToken, '"')
			if second := indexByteFrom(nameToken, '"', first+1); second != -1 {
				if last := bytes.LastIndexByte(nameToken, '"'); last > first {
					nameToken = nameToken[first : last+1]
				}
			}
		} else if parts := bytes.Fields(nameToken); len(parts) > 0 {
			nameToken = parts[len(parts)-1]
		}

		var rawName []byte
		if literalRe.Match(nameToken) {
			if idx+1 >= len(lines) {
				break
			}
			rawName = bytes.TrimSpace(lines[idx+1])
			idx++
		} else {
			rawName = nameToken
		}

		if name := DecodeMailboxName(rawName); name != "" {
			out = append(out, name)
		}
	}

	seen := make(map[string]bool, len(out))
	result := make([]string, 0, len(out))
	for _, name := range out {
		if seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, name)
	}
	return result
}

func indexByteFrom(b []byte, c byte, from int) int {
	if from >= len(b) {
		return -1
	}
	if i := bytes.IndexByte(b[from:], c); i != -1 {
		return from + i
	}
	return -1
}

// DecodeMailboxName decodes a raw mailbox token: strips one layer of quoting
// with backslash escapes, then decodes modified UTF-7, falling back to ASCII
// with replacement runes for undecodable bytes. NIL yields "".
func DecodeMailboxName(raw []byte) string {
	value := bytes.TrimSpace(raw)
	if len(value) == 0 || bytes.EqualFold(value, []byte("NIL")) {
		return ""
	}

	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
		value = bytes.ReplaceAll(value, []byte(`\"`), []byte(`"`))
		value = bytes.ReplaceAll(value, []byte(`\\`), []byte(`\`))
	}

	decoded := asciiWithReplacement(value)
	if name, err := utf7.Encoding.NewDecoder().String(decoded); err == nil {
		return name
	}
	return decoded
}

func asciiWithReplacement(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}

// ParseSelectInfo extracts UIDVALIDITY, UIDNEXT, and EXISTS from the
// untagged lines of a SELECT response.
func ParseSelectInfo(mailbox string, lines [][]byte) SelectInfo {
	info := SelectInfo{Mailbox: mailbox}
	for _, line := range lines {
		if m := uidvalidityRe.FindSubmatch(line); m != nil {
			info.UIDValidity, _ = strconv.ParseInt(string(m[1]), 10, 64)
		}
		if m := uidnextRe.FindSubmatch(line); m != nil {
			info.UIDNext, _ = strconv.ParseInt(string(m[1]), 10, 64)
		}
		if m := existsRe.FindSubmatch(line); m != nil {
			info.Exists, _ = strconv.ParseInt(string(m[1]), 10, 64)
		}
	}
	return info
}

// ParseSearchUIDs collects UIDs from SEARCH response lines. Digits may be
// spread over multiple "* SEARCH" continuation lines; a line contributes
// only when every remaining token is numeric.
func ParseSearchUIDs(lines [][]byte) []uint32 {
	var uids []uint32
	for _, line := range lines {
		parts := bytes.Fields(line)
		if len(parts) >= 2 && bytes.Equal(parts[0], []byte("*")) && bytes.EqualFold(parts[1], []byte("SEARCH")) {
			parts = parts[2:]
		}
		if len(parts) == 0 || !allDigits(parts) {
			continue
		}
		for _, p := range parts {
			n, err := strconv.ParseUint(string(p), 10, 32)
			if err != nil {
				continue
			}
			uids = append(uids, uint32(n))
		}
	}
	return uids
}

func allDigits(parts [][]byte) bool {
	for _, p := range parts {
		if len(p) == 0 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// minLiteralSize rejects fallback payloads too short to be a plausible
// RFC822 message.
const minLiteralSize = 64

// ExtractFetchLiteral pulls the message payload out of a FETCH response:
// the line ending in {N} announces an N-byte literal on the following line.
// When literal sizing is ambiguous the longest non-boundary line is used as
// a fallback, rejecting anything shorter than minLiteralSize.
func ExtractFetchLiteral(lines [][]byte) ([]byte, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("imap fetch response had no lines")
	}

	for idx, line := range lines {
		m := fetchLiteralRe.FindSubmatch(line)
		if m == nil {
			continue
		}
		size, err := strconv.Atoi(string(m[1]))
		if err != nil {
			continue
		}
		if idx+1 >= len(lines) {
			break
		}
		if literal := lines[idx+1]; len(literal) == size {
			return append([]byte(nil), literal...), nil
		}
	}

	var candidates [][]byte
	for _, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if bytes.Contains(line, []byte("FETCH")) || len(trimmed) == 0 || bytes.Equal(trimmed, []byte(")")) {
			continue
		}
		candidates = append(candidates, line)
	}
	if len(candidates) == 0 {
		candidates = lines
	}
	longest := candidates[0]
	for _, c := range candidates[1:] {
		if len(c) > len(longest) {
			longest = c
		}
	}
	if len(longest) < minLiteralSize {
		return nil, fmt.Errorf("imap fetch response contained no literal payload")
	}
	return append([]byte(nil), longest...), nil
}

// QuoteMailbox quotes a mailbox name for use in a command, escaping
// backslashes and double quotes.
func QuoteMailbox(value string) string {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return `""`
	}
	escaped := strings.ReplaceAll(stripped, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// SearchCriteria splits a search query into tokens shell-style (double and
// single quotes group words). An empty or unparseable query yields ALL.
func SearchCriteria(query string) []string {
	tokens, err := shellSplit(query)
	if err != nil || len(tokens) == 0 {
		return []string{"ALL"}
	}
	return tokens
}

func shellSplit(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	var quote byte
	inToken := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inToken = true
		case c == ' ' || c == '\t' || c == '\n':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in search query")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
