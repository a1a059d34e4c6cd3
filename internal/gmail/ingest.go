package gmail

import (
	"context"
	"fmt"
	"os"
)

// Ingester uploads archived messages from disk with a fixed mode and date
// source.
type Ingester struct {
	api        API
	mode       Mode
	dateSource DateSource
}

// NewIngester creates an Ingester over the given API.
func NewIngester(api API, mode Mode, dateSource DateSource) *Ingester {
	return &Ingester{api: api, mode: mode, dateSource: dateSource}
}

// IngestEML reads the message file at path and uploads it with the given
// label IDs.
func (ig *Ingester) IngestEML(ctx context.Context, path string, labelIDs []string) (*IngestResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eml %s: %w", path, err)
	}
	return ig.api.Ingest(ctx, raw, labelIDs, ig.mode, ig.dateSource)
}
