package gmail

import (
	"context"
	"testing"

	"github.com/vectorfy/migratemail/internal/testutil"
)

func TestFolderToSystemLabels(t *testing.T) {
	tests := []struct {
		folder string
		want   []string
	}{
		{"INBOX", []string{LabelInbox}},
		{"inbox", []string{LabelInbox}},
		{"Sent", []string{LabelSent}},
		{"Sent Messages", []string{LabelSent}},
		{"Trash", []string{LabelTrash}},
		{"Deleted Messages", []string{LabelTrash}},
		{"Deleted", []string{LabelTrash}},
		{"Junk", []string{LabelSpam}},
		{"Spam", []string{LabelSpam}},
		{"Drafts", []string{LabelDraft}},
		{"Receipts", nil},
		{"Archive", nil},
	}
	for _, tt := range tests {
		got := FolderToSystemLabels(tt.folder)
		testutil.AssertStrings(t, got, tt.want...)
	}
}

func TestFolderToCustomLabel(t *testing.T) {
	tests := []struct {
		prefix string
		folder string
		want   string
	}{
		{"iCloud", "Receipts", "iCloud/Receipts"},
		{"iCloud", "Archive/2023", "iCloud/Archive/2023"},
		{"iCloud", "/leading/", "iCloud/leading"},
		{"iCloud", `back\slash`, "iCloud/back_slash"},
		{"iCloud", "weird*chars?", "iCloud/weird_chars_"},
		{"iCloud", "", "iCloud/folder"},
		{"", "Receipts", "Receipts"},
		{"iCloud", "Entwürfe", "iCloud/Entwürfe"},
	}
	for _, tt := range tests {
		if got := FolderToCustomLabel(tt.prefix, tt.folder); got != tt.want {
			t.Errorf("FolderToCustomLabel(%q, %q) = %q, want %q", tt.prefix, tt.folder, got, tt.want)
		}
	}
}

func TestLabelCacheEnsureMemoizes(t *testing.T) {
	fake := NewFake()
	fake.SeedLabel("Label_existing", "iCloud/Old")
	cache := NewLabelCache(fake)
	ctx := context.Background()

	testutil.MustNoErr(t, cache.Refresh(ctx), "refresh")

	// Pre-existing label: no create call.
	id, err := cache.Ensure(ctx, "iCloud/Old")
	testutil.MustNoErr(t, err, "ensure existing")
	if id != "Label_existing" {
		t.Errorf("id = %q", id)
	}
	if fake.CreateCalls() != 0 {
		t.Errorf("CreateCalls = %d, want 0", fake.CreateCalls())
	}

	// New label created once, then served from cache.
	first, err := cache.Ensure(ctx, "iCloud/New")
	testutil.MustNoErr(t, err, "ensure new")
	second, err := cache.Ensure(ctx, "iCloud/New")
	testutil.MustNoErr(t, err, "ensure new again")
	if first != second {
		t.Errorf("ids differ: %q vs %q", first, second)
	}
	if fake.CreateCalls() != 1 {
		t.Errorf("CreateCalls = %d, want 1", fake.CreateCalls())
	}
}
