package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vectorfy/migratemail/internal/config"
	"github.com/vectorfy/migratemail/internal/evidence"
	"github.com/vectorfy/migratemail/internal/gmail"
	"github.com/vectorfy/migratemail/internal/imap"
	"github.com/vectorfy/migratemail/internal/ledger"
	"github.com/vectorfy/migratemail/internal/message"
)

// Source is one IMAP session as the pipeline sees it.
type Source interface {
	ListMailboxes(ctx context.Context) ([]string, error)
	Select(ctx context.Context, mailbox string) (imap.SelectInfo, error)
	UIDSearch(ctx context.Context, criteria []string) ([]uint32, error)
	FetchRFC822(ctx context.Context, mailbox string, uid uint32) ([]byte, error)
}

// SourcePool hands out sessions with a checkout/return discipline.
type SourcePool interface {
	Acquire(ctx context.Context) (Source, error)
	Release(Source)
}

// PoolAdapter adapts *imap.Pool to SourcePool.
type PoolAdapter struct {
	Pool *imap.Pool
}

func (a PoolAdapter) Acquire(ctx context.Context) (Source, error) {
	return a.Pool.Acquire(ctx)
}

func (a PoolAdapter) Release(s Source) {
	a.Pool.Release(s.(*imap.Session))
}

// workItem is one downloaded message queued for Gmail ingestion.
type workItem struct {
	rowID    int64
	emlPath  string
	labelIDs []string
}

// Orchestrator drives one migration run end to end.
type Orchestrator struct {
	cfg      *config.Config
	pool     SourcePool
	led      *ledger.Ledger
	store    *evidence.Store
	ingester *gmail.Ingester
	labels   *gmail.LabelCache
	filter   *message.Filter
	progress Progress
	logger   *slog.Logger
	retry    retryPolicy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProgress sets the progress reporter.
func WithProgress(p Progress) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator. The Gmail API may be nil for dry runs.
func New(cfg *config.Config, pool SourcePool, led *ledger.Ledger, store *evidence.Store, api gmail.API, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		pool:     pool,
		led:      led,
		store:    store,
		filter:   message.NewFilter(cfg.Filter.TargetAddresses, cfg.Filter.IncludeSender, cfg.Filter.IncludeRecipients),
		progress: NullProgress{},
		logger:   slog.Default(),
		retry:    defaultRetry,
	}
	if api != nil {
		o.ingester = gmail.NewIngester(api, gmail.Mode(cfg.Gmail.ImportMode), gmail.DateSource(cfg.Gmail.DateSource))
		o.labels = gmail.NewLabelCache(api)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunOptions modify a single Run.
type RunOptions struct {
	// DryRun stops after evidence archival; nothing reaches Gmail.
	DryRun bool
	// Reset revives skipped and failed messages and rewinds folder
	// checkpoints before scanning.
	Reset bool
}

// mailboxScan is the pre-scan result for one mailbox.
type mailboxScan struct {
	name string
	info imap.SelectInfo
	uids []uint32
}

// Run executes one migration pass. It is resumable: messages already
// imported are skipped and folder checkpoints bound the UID scan.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) error {
	if opts.Reset {
		n, err := o.led.ResetSkippedAndFailed()
		if err != nil {
			return fmt.Errorf("reset ledger: %w", err)
		}
		o.logger.Info("reset skipped and failed messages", "revived", n)
	}

	mailboxes, err := o.discoverMailboxes(ctx)
	if err != nil {
		return err
	}
	if len(mailboxes) == 0 {
		o.logger.Warn("no mailboxes to migrate after filtering")
		return nil
	}
	o.logger.Info("mailboxes selected", "count", len(mailboxes), "names", mailboxes)

	if !opts.DryRun && o.labels != nil {
		if err := o.labels.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh gmail labels: %w", err)
		}
	}

	scans, err := o.preScan(ctx, mailboxes)
	if err != nil {
		return err
	}
	var total int64
	for _, s := range scans {
		total += int64(len(s.uids))
	}
	o.progress.SetTotal(total)

	queue := make(chan *workItem, o.cfg.Concurrency.QueueMaxSize)
	var workers sync.WaitGroup
	workerCount := o.cfg.Concurrency.GmailWorkers
	if opts.DryRun {
		workerCount = 0
	}
	for i := 0; i < workerCount; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			o.sinkWorker(ctx, queue)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, scan := range scans {
		scan := scan
		g.Go(func() error {
			return o.migrateMailbox(gctx, scan, opts.DryRun, queue)
		})
	}
	runErr := g.Wait()

	for i := 0; i < workerCount; i++ {
		queue <- nil
	}
	workers.Wait()

	if counts, err := o.led.CountsByStatus(); err == nil {
		attrs := make([]any, 0, len(ledger.Statuses)*2)
		for _, st := range ledger.Statuses {
			attrs = append(attrs, string(st), counts[st])
		}
		o.logger.Info("run complete", attrs...)
	}

	return runErr
}

// discoverMailboxes lists server mailboxes and applies the include and
// exclude lists. A non-empty include list is a whitelist.
func (o *Orchestrator) discoverMailboxes(ctx context.Context) ([]string, error) {
	src, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	names, err := src.ListMailboxes(ctx)
	o.pool.Release(src)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	include := make(map[string]bool, len(o.cfg.IMAP.FolderInclude))
	for _, n := range o.cfg.IMAP.FolderInclude {
		include[n] = true
	}
	exclude := make(map[string]bool, len(o.cfg.IMAP.FolderExclude))
	for _, n := range o.cfg.IMAP.FolderExclude {
		exclude[n] = true
	}

	var out []string
	for _, name := range names {
		if len(include) > 0 && !include[name] {
			continue
		}
		if exclude[name] {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// preScan selects each mailbox and searches its UIDs, establishing the
// progress denominator before any fetching starts.
func (o *Orchestrator) preScan(ctx context.Context, mailboxes []string) ([]mailboxScan, error) {
	criteria := imap.SearchCriteria(o.cfg.IMAP.SearchQuery)

	src, err := o.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer o.pool.Release(src)

	scans := make([]mailboxScan, 0, len(mailboxes))
	for _, name := range mailboxes {
		info, err := src.Select(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("select %q: %w", name, err)
		}
		uids, err := src.UIDSearch(ctx, criteria)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", name, err)
		}
		o.logger.Debug("mailbox scanned", "mailbox", name, "uids", len(uids), "uidvalidity", info.UIDValidity)
		scans = append(scans, mailboxScan{name: name, info: info, uids: uids})
	}
	return scans, nil
}

// migrateMailbox processes one mailbox in checkpoint-bounded UID batches.
func (o *Orchestrator) migrateMailbox(ctx context.Context, scan mailboxScan, dryRun bool, queue chan<- *workItem) error {
	folder, err := o.led.GetFolder(scan.name)
	if err != nil {
		return err
	}
	var startUID uint32 = 1
	if folder != nil && folder.LastUIDSeen > 0 {
		startUID = uint32(folder.LastUIDSeen) + 1
	}
	lastSeen := int64(startUID) - 1
	if err := o.led.UpdateFolderCheckpoint(scan.name, scan.info.UIDValidity, lastSeen); err != nil {
		return err
	}

	eligible := make([]uint32, 0, len(scan.uids))
	for _, uid := range scan.uids {
		if uid >= startUID {
			eligible = append(eligible, uid)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i] < eligible[j] })

	// UIDs below the checkpoint count toward the denominator but were
	// handled by a previous run.
	if skipped := len(scan.uids) - len(eligible); skipped > 0 {
		o.progress.Advance(int64(skipped))
	}
	if len(eligible) == 0 {
		o.logger.Info("mailbox up to date", "mailbox", scan.name)
		return nil
	}
	imported, err := o.led.CountFolderMessages(scan.name)
	if err != nil {
		return err
	}
	o.logger.Info("migrating mailbox", "mailbox", scan.name, "messages", len(eligible), "already_imported", imported, "from_uid", eligible[0])

	batchSize := o.cfg.Concurrency.BatchSize
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency.IMAPFetchConcurrency))

	for start := 0; start < len(eligible); start += batchSize {
		end := start + batchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		batch := eligible[start:end]

		g, gctx := errgroup.WithContext(ctx)
		var acquireErr error
		for _, uid := range batch {
			uid := uid
			if err := sem.Acquire(gctx, 1); err != nil {
				acquireErr = err
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				return o.processUID(gctx, scan.name, scan.info.UIDValidity, uid, dryRun, queue)
			})
		}
		err := g.Wait()
		if err == nil {
			err = acquireErr
		}
		// A batch that did not dispatch every UID must not move the
		// checkpoint: undispatched UIDs have no ledger row and would
		// otherwise be skipped forever.
		if err != nil {
			return err
		}

		// Checkpoints advance only at batch boundaries, so a crash
		// mid-batch re-scans the whole batch.
		lastSeen = int64(batch[len(batch)-1])
		if err := o.led.UpdateFolderCheckpoint(scan.name, scan.info.UIDValidity, lastSeen); err != nil {
			return err
		}
	}
	return nil
}

// processUID moves one message through fetch, fingerprint, dedup, filter,
// and evidence archival, then queues it for ingestion. Per-message failures
// are recorded in the ledger and do not abort the run.
func (o *Orchestrator) processUID(ctx context.Context, mailbox string, uidvalidity int64, uid uint32, dryRun bool, queue chan<- *workItem) error {
	var raw []byte
	fetchErr := o.retry.do(ctx, func() error {
		src, err := o.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer o.pool.Release(src)
		raw, err = src.FetchRFC822(ctx, mailbox, uid)
		return err
	})
	if fetchErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// No ledger row: the UID stays below the checkpoint only if the
		// batch completes, so a later run with --reset can retry it.
		o.logger.Warn("fetch failed, skipping", "mailbox", mailbox, "uid", uid, "error", fetchErr)
		o.progress.Advance(1)
		return nil
	}

	fp := message.Compute(raw, o.cfg.Filter.FingerprintBodyBytes)
	row, err := o.led.UpsertMessageDiscovered(mailbox, uid, uidvalidity, fp.MessageIDNorm, fp.Digest, int64(len(raw)))
	if err != nil {
		return err
	}

	if row.Status == ledger.StatusImported {
		o.progress.Advance(1)
		return nil
	}

	if !o.filter.Matches(fp.Headers) {
		if err := o.led.MarkSkippedFiltered(row.ID, "no target address match"); err != nil {
			return err
		}
		o.progress.Advance(1)
		return nil
	}

	if dupID, found, err := o.led.FindExistingImported(fp.MessageIDNorm, fp.Digest); err != nil {
		return err
	} else if found && dupID != row.ID {
		if err := o.led.MarkSkippedDuplicate(row.ID, fmt.Sprintf("duplicate of message %d", dupID)); err != nil {
			return err
		}
		o.progress.Advance(1)
		return nil
	}

	res, err := o.store.WriteImmutable(mailbox, uidvalidity, uid, raw)
	if err != nil {
		if markErr := o.led.MarkFailed(row.ID, err.Error()); markErr != nil {
			return markErr
		}
		o.logger.Error("evidence write failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.progress.Advance(1)
		return nil
	}
	if err := o.led.MarkDownloaded(row.ID, res.Path, res.SHA256); err != nil {
		return err
	}

	if dryRun {
		o.progress.Advance(1)
		return nil
	}

	labelIDs, err := o.labelsFor(ctx, mailbox)
	if err != nil {
		if markErr := o.led.MarkFailed(row.ID, err.Error()); markErr != nil {
			return markErr
		}
		o.logger.Error("label resolution failed", "mailbox", mailbox, "uid", uid, "error", err)
		o.progress.Advance(1)
		return nil
	}

	select {
	case queue <- &workItem{rowID: row.ID, emlPath: res.Path, labelIDs: labelIDs}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// labelsFor resolves the system and custom label IDs for a mailbox.
func (o *Orchestrator) labelsFor(ctx context.Context, mailbox string) ([]string, error) {
	ids := gmail.FolderToSystemLabels(mailbox)

	custom := gmail.FolderToCustomLabel(o.cfg.Gmail.LabelPrefix, mailbox)
	id, err := o.labels.Ensure(ctx, custom)
	if err != nil {
		return nil, err
	}
	ids = append(ids, id)

	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, l := range ids {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// sinkWorker consumes queued messages until it reads a nil sentinel,
// uploading each with retries.
func (o *Orchestrator) sinkWorker(ctx context.Context, queue <-chan *workItem) {
	for item := range queue {
		if item == nil {
			return
		}
		o.ingestItem(ctx, item)
		o.progress.Advance(1)
	}
}

// ingestItem uploads one message and records the outcome. On cancellation
// the row is left downloaded so the next run resumes it.
func (o *Orchestrator) ingestItem(ctx context.Context, item *workItem) {
	var result *gmail.IngestResult
	err := o.retry.do(ctx, func() error {
		var ierr error
		result, ierr = o.ingester.IngestEML(ctx, item.emlPath, item.labelIDs)
		return ierr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		o.logger.Error("gmail ingest failed", "row", item.rowID, "error", err)
		if markErr := o.led.MarkFailed(item.rowID, err.Error()); markErr != nil {
			o.logger.Error("mark failed errored", "row", item.rowID, "error", markErr)
		}
		return
	}
	if err := o.led.MarkImported(item.rowID, result.MessageID, result.ThreadID, item.labelIDs); err != nil {
		o.logger.Error("mark imported errored", "row", item.rowID, "error", err)
	}
	o.logger.Debug("imported", "row", item.rowID,
		"gmail_id", result.MessageID, "labels", strings.Join(item.labelIDs, ","))
}
