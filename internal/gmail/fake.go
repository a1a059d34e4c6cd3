package gmail

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory API implementation for tests. It records every
// ingested message and mints sequential IDs.
type Fake struct {
	mu          sync.Mutex
	labels      []*Label
	ingested    []FakeIngested
	nextID      int
	createCalls int

	// Profile returned by GetProfile.
	ProfileResult Profile
	// IngestErr, when set, is returned by every Ingest call.
	IngestErr error
	// CreateLabelErr, when set, is returned by every CreateLabel call.
	CreateLabelErr error
}

// FakeIngested is one recorded Ingest call.
type FakeIngested struct {
	Raw        []byte
	LabelIDs   []string
	Mode       Mode
	DateSource DateSource
}

// NewFake creates an empty fake.
func NewFake() *Fake {
	return &Fake{}
}

// SeedLabel pre-populates a label, as if it already existed on the account.
func (f *Fake) SeedLabel(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, &Label{ID: id, Name: name, Type: "user"})
}

func (f *Fake) GetProfile(ctx context.Context) (*Profile, error) {
	p := f.ProfileResult
	return &p, nil
}

func (f *Fake) ListLabels(ctx context.Context) ([]*Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Label, len(f.labels))
	copy(out, f.labels)
	return out, nil
}

func (f *Fake) CreateLabel(ctx context.Context, name string) (*Label, error) {
	if f.CreateLabelErr != nil {
		return nil, f.CreateLabelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	for _, l := range f.labels {
		if l.Name == name {
			return l, nil
		}
	}
	f.nextID++
	label := &Label{ID: fmt.Sprintf("Label_%d", f.nextID), Name: name, Type: "user"}
	f.labels = append(f.labels, label)
	return label, nil
}

func (f *Fake) Ingest(ctx context.Context, raw []byte, labelIDs []string, mode Mode, dateSource DateSource) (*IngestResult, error) {
	if f.IngestErr != nil {
		return nil, f.IngestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.ingested = append(f.ingested, FakeIngested{
		Raw:        append([]byte(nil), raw...),
		LabelIDs:   append([]string(nil), labelIDs...),
		Mode:       mode,
		DateSource: dateSource,
	})
	return &IngestResult{
		MessageID: fmt.Sprintf("msg_%d", f.nextID),
		ThreadID:  fmt.Sprintf("thread_%d", f.nextID),
		LabelIDs:  labelIDs,
	}, nil
}

// Ingested returns a copy of the recorded Ingest calls.
func (f *Fake) Ingested() []FakeIngested {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeIngested, len(f.ingested))
	copy(out, f.ingested)
	return out
}

// CreateCalls returns how many times CreateLabel was invoked.
func (f *Fake) CreateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

var _ API = (*Fake)(nil)
