package gmail

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// System label IDs that Gmail predefines. Custom labels get generated IDs.
const (
	LabelInbox = "INBOX"
	LabelSent  = "SENT"
	LabelTrash = "TRASH"
	LabelSpam  = "SPAM"
	LabelDraft = "DRAFT"
)

// FolderToSystemLabels maps an IMAP folder name to the Gmail system labels
// that should be applied to messages migrated from it.
func FolderToSystemLabels(folder string) []string {
	name := strings.ToLower(strings.TrimSpace(folder))
	switch {
	case name == "inbox":
		return []string{LabelInbox}
	case strings.HasPrefix(name, "sent") || strings.Contains(name, "sent messages"):
		return []string{LabelSent}
	case strings.Contains(name, "trash") || strings.Contains(name, "deleted messages") || name == "deleted":
		return []string{LabelTrash}
	case strings.Contains(name, "junk") || strings.Contains(name, "spam"):
		return []string{LabelSpam}
	case strings.Contains(name, "draft"):
		return []string{LabelDraft}
	}
	return nil
}

var labelUnsafeRe = regexp.MustCompile(`[^\p{L}\p{N}_./ -]+`)

// FolderToCustomLabel builds the namespaced custom label name for a folder,
// e.g. "iCloud/Receipts". Characters Gmail rejects are replaced with "_".
func FolderToCustomLabel(prefix, folder string) string {
	name := strings.TrimSpace(folder)
	name = strings.Trim(name, "/")
	name = strings.ReplaceAll(name, `\`, "_")
	name = labelUnsafeRe.ReplaceAllString(name, "_")
	if name == "" {
		name = "folder"
	}
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// LabelCache memoizes the account's labels so each custom label is created
// at most once per run. Safe for concurrent use.
type LabelCache struct {
	api API

	mu     sync.Mutex
	byName map[string]string // label name -> label ID
}

// NewLabelCache creates an empty cache over the given API.
func NewLabelCache(api API) *LabelCache {
	return &LabelCache{api: api, byName: make(map[string]string)}
}

// Refresh replaces the cache with the account's current labels. Entries
// missing a name or ID are skipped.
func (c *LabelCache) Refresh(ctx context.Context) error {
	labels, err := c.api.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName = make(map[string]string, len(labels))
	for _, l := range labels {
		if l.Name == "" || l.ID == "" {
			continue
		}
		c.byName[l.Name] = l.ID
	}
	return nil
}

// Ensure returns the ID of the named label, creating it when absent.
func (c *LabelCache) Ensure(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.byName[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	label, err := c.api.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}

	c.mu.Lock()
	c.byName[name] = label.ID
	c.mu.Unlock()
	return label.ID, nil
}
