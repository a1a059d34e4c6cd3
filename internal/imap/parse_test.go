package imap

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vectorfy/migratemail/internal/testutil"
)

func lines(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestParseListResponse(t *testing.T) {
	got := ParseListResponse(lines(
		`* LIST (\HasNoChildren) "/" INBOX`,
		`* LIST (\HasNoChildren) "/" "Sent Messages"`,
		`* LIST (\HasChildren) "/" "Archive"`,
		`* LIST (\HasNoChildren) "/" "Archive"`,
	))
	testutil.AssertStrings(t, got, "INBOX", "Sent Messages", "Archive")
}

func TestParseListResponseNILDelimiter(t *testing.T) {
	got := ParseListResponse(lines(
		`* LIST (\Noselect) NIL Drafts`,
	))
	testutil.AssertStrings(t, got, "Drafts")
}

func TestParseListResponseEscapedQuotes(t *testing.T) {
	got := ParseListResponse(lines(
		`* LIST (\HasNoChildren) "/" "Folder \"quoted\""`,
	))
	testutil.AssertStrings(t, got, `Folder "quoted"`)
}

func TestParseListResponseLiteralName(t *testing.T) {
	got := ParseListResponse(lines(
		`* LIST (\HasNoChildren) "/" {7}`,
		`Notes.A`,
		`* LIST (\HasNoChildren) "/" INBOX`,
	))
	testutil.AssertStrings(t, got, "Notes.A", "INBOX")
}

func TestParseListResponseModifiedUTF7(t *testing.T) {
	// "Entw&APw-rfe" is modified UTF-7 for the German "Entwürfe".
	got := ParseListResponse(lines(
		`* LIST (\HasNoChildren) "/" "Entw&APw-rfe"`,
	))
	testutil.AssertStrings(t, got, "Entwürfe")
}

func TestParseListResponseSkipsGarbage(t *testing.T) {
	got := ParseListResponse(lines(
		`+ continuation nonsense`,
		`completely unrelated line`,
		`* LIST (\HasNoChildren) "/" INBOX`,
	))
	testutil.AssertStrings(t, got, "INBOX")
}

func TestDecodeMailboxName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`INBOX`, "INBOX"},
		{`"Sent Messages"`, "Sent Messages"},
		{`NIL`, ""},
		{``, ""},
		{`"Entw&APw-rfe"`, "Entwürfe"},
	}
	for _, tt := range tests {
		if got := DecodeMailboxName([]byte(tt.input)); got != tt.want {
			t.Errorf("DecodeMailboxName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseSelectInfo(t *testing.T) {
	info := ParseSelectInfo("INBOX", lines(
		`* 172 EXISTS`,
		`* 1 RECENT`,
		`* OK [UIDVALIDITY 3857529045] UIDs valid`,
		`* OK [UIDNEXT 4392] Predicted next UID`,
	))
	want := SelectInfo{Mailbox: "INBOX", UIDValidity: 3857529045, UIDNext: 4392, Exists: 172}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("SelectInfo mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSelectInfoMissingFields(t *testing.T) {
	info := ParseSelectInfo("X", lines(`* FLAGS (\Seen)`))
	if info.UIDValidity != 0 || info.UIDNext != 0 || info.Exists != 0 {
		t.Errorf("expected zero values, got %+v", info)
	}
}

func TestParseSearchUIDs(t *testing.T) {
	uids := ParseSearchUIDs(lines(
		`* SEARCH 2 84 882`,
		`* SEARCH 900 901`,
		`* 5 EXISTS`,
	))
	want := []uint32{2, 84, 882, 900, 901}
	if diff := cmp.Diff(want, uids); diff != "" {
		t.Errorf("uids mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSearchUIDsEmpty(t *testing.T) {
	if uids := ParseSearchUIDs(lines(`* SEARCH`)); uids != nil {
		t.Errorf("expected no uids, got %v", uids)
	}
}

func TestExtractFetchLiteralExactSize(t *testing.T) {
	payload := strings.Repeat("x", 128)
	raw, err := ExtractFetchLiteral([][]byte{
		[]byte(`* 1 FETCH (UID 42 BODY[] {128}`),
		[]byte(payload),
		[]byte(`)`),
	})
	testutil.MustNoErr(t, err, "extract literal")
	if string(raw) != payload {
		t.Errorf("payload mismatch, len=%d", len(raw))
	}
}

func TestExtractFetchLiteralFallbackLongestLine(t *testing.T) {
	// Announced size disagrees with the payload: the longest non-boundary
	// line wins.
	payload := strings.Repeat("y", 200)
	raw, err := ExtractFetchLiteral([][]byte{
		[]byte(`* 1 FETCH (UID 42 BODY[] {9999}`),
		[]byte(payload),
		[]byte(`)`),
	})
	testutil.MustNoErr(t, err, "extract fallback")
	if string(raw) != payload {
		t.Errorf("payload mismatch, len=%d", len(raw))
	}
}

func TestExtractFetchLiteralRejectsShort(t *testing.T) {
	_, err := ExtractFetchLiteral([][]byte{
		[]byte(`* 1 FETCH (UID 42)`),
		[]byte(`tiny`),
	})
	if err == nil {
		t.Error("expected error for implausibly short payload")
	}
}

func TestExtractFetchLiteralEmpty(t *testing.T) {
	if _, err := ExtractFetchLiteral(nil); err == nil {
		t.Error("expected error for empty response")
	}
}

func TestQuoteMailbox(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"INBOX", `"INBOX"`},
		{"Sent Messages", `"Sent Messages"`},
		{`A"B`, `"A\"B"`},
		{`A\B`, `"A\\B"`},
		{"", `""`},
		{"  padded  ", `"padded"`},
	}
	for _, tt := range tests {
		if got := QuoteMailbox(tt.input); got != tt.want {
			t.Errorf("QuoteMailbox(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSearchCriteria(t *testing.T) {
	testutil.AssertStrings(t, SearchCriteria(""), "ALL")
	testutil.AssertStrings(t, SearchCriteria("SINCE 01-Jan-2020"), "SINCE", "01-Jan-2020")
	testutil.AssertStrings(t, SearchCriteria(`SUBJECT "hello world"`), "SUBJECT", "hello world")
	// Unterminated quotes fall back to ALL.
	testutil.AssertStrings(t, SearchCriteria(`SUBJECT "broken`), "ALL")
}
