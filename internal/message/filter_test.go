package message

import "testing"

func TestFilterEmptyTargetsAcceptsAll(t *testing.T) {
	f := NewFilter(nil, true, true)
	if !f.Matches(MinimalHeaders{From: "anyone@anywhere.com"}) {
		t.Error("empty target set should accept everything")
	}
	if !f.Matches(MinimalHeaders{}) {
		t.Error("empty target set should accept headerless messages")
	}
}

func TestFilterSenderMatch(t *testing.T) {
	f := NewFilter([]string{"me@icloud.com"}, true, false)

	if !f.Matches(MinimalHeaders{From: "Me <Me@iCloud.com>"}) {
		t.Error("sender match should be case-insensitive")
	}
	if f.Matches(MinimalHeaders{From: "other@x.com", To: "me@icloud.com"}) {
		t.Error("recipient match should not count when includeRecipients is off")
	}
}

func TestFilterRecipientMatch(t *testing.T) {
	f := NewFilter([]string{"me@icloud.com"}, false, true)

	headers := []MinimalHeaders{
		{To: "me@icloud.com"},
		{Cc: "a@x.com, me@icloud.com"},
		{Bcc: "me@icloud.com"},
		{DeliveredTo: "me@icloud.com"},
		{XOriginalTo: "me@icloud.com"},
		{EnvelopeTo: "me@icloud.com"},
	}
	for i, h := range headers {
		if !f.Matches(h) {
			t.Errorf("case %d: expected recipient match", i)
		}
	}

	if f.Matches(MinimalHeaders{From: "me@icloud.com", To: "other@x.com"}) {
		t.Error("sender match should not count when includeSender is off")
	}
}

func TestFilterNoMatch(t *testing.T) {
	f := NewFilter([]string{"me@icloud.com"}, true, true)
	h := MinimalHeaders{From: "a@x.com", To: "b@y.com", Cc: "c@z.com"}
	if f.Matches(h) {
		t.Error("unrelated message should be rejected")
	}
}
