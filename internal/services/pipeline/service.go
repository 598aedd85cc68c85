// Package pipeline drives catalog rows through resolve, download and ledger
// bookkeeping on a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/internal/services/audiometa"
	"github.com/killallgit/episode-harvester/internal/services/cleanup"
	"github.com/killallgit/episode-harvester/internal/services/extractor"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/internal/services/resolver"
	"github.com/killallgit/episode-harvester/internal/services/workers"
	"github.com/killallgit/episode-harvester/pkg/download"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
	"github.com/killallgit/episode-harvester/pkg/naming"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryAttempts = 5
	DefaultTempMaxAge    = 24 * time.Hour
)

// Config holds the driver's tunables
type Config struct {
	OutputDir     string
	SourceTag     string
	Workers       int
	MaxAttempts   int           // resolver attempts per row in RunAll
	RetryAttempts int           // resolver attempts per title variant in RetryFailed
	PassDelay     time.Duration // pause between RetryFailed passes
	TempMaxAge    time.Duration // run dirs older than this are swept at start
	ShowProgress  bool          // log download percentages at DEBUG
}

// Driver runs catalog rows and failed ledger entries to completion
type Driver struct {
	cfg        Config
	ledger     ledger.Service
	resolver   Resolver
	downloader Downloader
	pages      PageFetcher
	extractor  *extractor.Extractor
	temp       *cleanup.Service
	now        func() time.Time
	sleep      resolver.Sleeper
	log        *slog.Logger
}

// Option is a functional option for configuring the driver
type Option func(*Driver)

// WithClock overrides the time source used for dates and ledger timestamps
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSleeper overrides the wait between retry passes
func WithSleeper(sleep resolver.Sleeper) Option {
	return func(d *Driver) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.log = logger
		}
	}
}

// WithExtractor sets the extractor used for the metadata refresh
func WithExtractor(ex *extractor.Extractor) Option {
	return func(d *Driver) {
		if ex != nil {
			d.extractor = ex
		}
	}
}

// NewDriver creates a driver. pages may be nil, which disables the page part
// of the metadata refresh for files already on disk.
func NewDriver(cfg Config, ledgerSvc ledger.Service, res Resolver, dl Downloader, pages PageFetcher, opts ...Option) *Driver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = DefaultTempMaxAge
	}

	d := &Driver{
		cfg:        cfg,
		ledger:     ledgerSvc,
		resolver:   res,
		downloader: dl,
		pages:      pages,
		extractor:  extractor.New(),
		temp:       cleanup.NewService(cfg.OutputDir, cfg.TempMaxAge),
		now:        time.Now,
		sleep:      resolver.SleepContext,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// rowTask is one unit of work for the pool
type rowTask struct {
	ref      models.EpisodeReference
	identity naming.Identity
	fileName string
	dest     string
	tempDir  string

	// owner is another identity the ledger already has completed under
	// fileName, if any
	owner naming.Identity
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeExisting
	outcomeFailed
	outcomeSkipped
)

// tally collects outcomes from concurrent workers
type tally struct {
	mu      sync.Mutex
	summary Summary
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeCompleted:
		t.summary.Completed++
	case outcomeExisting:
		t.summary.Existing++
	case outcomeFailed:
		t.summary.Failed++
	case outcomeSkipped:
		t.summary.Skipped++
	}
}

// RunAll processes every catalog reference once. Rows without an episode
// title and repeated identities are counted but never dispatched. The
// returned error is non-nil only when the run could not start or ctx was
// cancelled; per-row failures end up in the ledger and the summary.
func (d *Driver) RunAll(ctx context.Context, refs []models.EpisodeReference) (Summary, error) {
	summary := Summary{Total: len(refs)}

	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("creating output dir: %w", err)
	}
	runDir, err := d.startRun()
	if err != nil {
		return summary, err
	}
	defer d.endRun(runDir)

	now := d.now()
	valid := make([]models.EpisodeReference, 0, len(refs))
	for _, ref := range refs {
		if !ref.HasTitle() {
			summary.Invalid++
			d.log.Warn("skipping row without episode title", "row", ref.Row)
			continue
		}
		if _, ok := naming.DateSegment(ref.DatePosted, now); !ok {
			d.log.Warn("unparseable posting date, using today", "row", ref.Row, "date", ref.DatePosted)
		}
		valid = append(valid, ref)
	}

	parts := make([]naming.Parts, len(valid))
	for i, ref := range valid {
		parts[i] = ref.Parts()
	}
	plan := naming.Plan(d.cfg.SourceTag, parts, now)

	owners := d.fileOwners(ctx)
	tasks := make([]rowTask, 0, len(valid))
	for i, ref := range valid {
		if plan[i].Duplicate {
			summary.Duplicates++
			d.log.Debug("skipping duplicate row", "row", ref.Row, "identity", plan[i].Identity)
			continue
		}
		tasks = append(tasks, rowTask{
			ref:      ref,
			identity: plan[i].Identity,
			fileName: plan[i].FileName,
			dest:     filepath.Join(d.cfg.OutputDir, plan[i].FileName),
			tempDir:  runDir.Path,
			owner:    owners[plan[i].FileName],
		})
	}

	d.log.Info("starting run", "rows", len(refs), "dispatched", len(tasks), "workers", d.cfg.Workers)
	counted := d.dispatch(ctx, tasks, d.processRow)
	summary.Completed = counted.Completed
	summary.Existing = counted.Existing
	summary.Failed = counted.Failed
	summary.Skipped = counted.Skipped

	d.log.Info("run finished",
		"completed", summary.Completed,
		"existing", summary.Existing,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"invalid", summary.Invalid,
		"duplicates", summary.Duplicates)

	return summary, ctx.Err()
}

// RetryFailed re-runs every failed ledger entry with progressively looser
// search titles, up to maxPasses times. It returns how many entries are still
// failed afterwards. With nothing failed it returns immediately without any
// network traffic.
func (d *Driver) RetryFailed(ctx context.Context, maxPasses int) (int, error) {
	store := context.WithoutCancel(ctx)

	failed, err := d.ledger.ListByStatus(store, models.StatusFailed)
	if err != nil {
		return 0, apperrors.LedgerError("list", err)
	}
	if len(failed) == 0 {
		d.log.Info("no failed entries to retry")
		return 0, nil
	}

	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return len(failed), fmt.Errorf("creating output dir: %w", err)
	}
	runDir, err := d.startRun()
	if err != nil {
		return len(failed), err
	}
	defer d.endRun(runDir)

	for pass := 1; pass <= maxPasses && len(failed) > 0; pass++ {
		if pass > 1 {
			if err := d.sleep(ctx, d.cfg.PassDelay); err != nil {
				break
			}
		}

		d.log.Info("retry pass", "pass", pass, "of", maxPasses, "failed", len(failed))
		owners := d.fileOwners(ctx)
		tasks := make([]rowTask, 0, len(failed))
		for _, entry := range failed {
			task := d.retryTask(entry, runDir.Path)
			task.owner = owners[task.fileName]
			tasks = append(tasks, task)
		}
		d.dispatch(ctx, tasks, d.retryRow)
		if ctx.Err() != nil {
			break
		}

		failed, err = d.ledger.ListByStatus(store, models.StatusFailed)
		if err != nil {
			return 0, apperrors.LedgerError("list", err)
		}
	}

	remaining, err := d.ledger.ListByStatus(store, models.StatusFailed)
	if err != nil {
		return 0, apperrors.LedgerError("list", err)
	}
	d.log.Info("retry finished", "still_failed", len(remaining))
	return len(remaining), ctx.Err()
}

// dispatch runs handle over tasks on a fresh worker pool and waits for it
func (d *Driver) dispatch(ctx context.Context, tasks []rowTask, handle func(context.Context, rowTask) outcome) Summary {
	counts := &tally{}
	pool := workers.NewWorkerPool[rowTask](workers.ProcessorFunc[rowTask](func(ctx context.Context, task rowTask) error {
		counts.add(d.guard(ctx, task, handle))
		return nil
	}), d.cfg.Workers)

	if err := pool.Start(ctx); err != nil {
		d.log.Error("failed to start worker pool", "error", err)
		return counts.summary
	}
	for _, task := range tasks {
		if err := pool.Submit(ctx, task); err != nil {
			d.log.Warn("stopped dispatching rows", "error", err)
			break
		}
	}
	pool.Wait()

	counts.mu.Lock()
	defer counts.mu.Unlock()
	return counts.summary
}

// guard keeps a panicking row from taking the run down with it
func (d *Driver) guard(ctx context.Context, task rowTask, handle func(context.Context, rowTask) outcome) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("row panicked", "identity", task.identity, "panic", r)
			d.record(ctx, task, models.StatusFailed,
				ledger.WithReference(task.ref, task.fileName),
				ledger.WithError(ledgerMessage(apperrors.Newf(apperrors.ErrCodeInternal, "Unexpected error: %v", r))))
			result = outcomeFailed
		}
	}()
	return handle(ctx, task)
}

// processRow is the RunAll path for one catalog row
func (d *Driver) processRow(ctx context.Context, task rowTask) outcome {
	if task.claimedElsewhere() {
		return d.fileConflict(ctx, task)
	}
	if fileExists(task.dest) {
		d.refreshExisting(ctx, task)
		return outcomeExisting
	}
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	opts := []ledger.UpsertOption{
		ledger.WithReference(task.ref, task.fileName),
		ledger.WithDownloadStarted(d.now()),
	}
	if d.completedButMissing(ctx, task) {
		d.log.Warn("completed entry has no file on disk, downloading again", "identity", task.identity, "file", task.fileName)
		opts = append(opts, ledger.WithReattempt())
	}
	d.record(ctx, task, models.StatusProcessing, opts...)

	candidate, result, err := d.attempt(ctx, task, []string{task.ref.EpisodeTitle}, d.cfg.MaxAttempts)
	return d.finish(ctx, task, candidate, result, err)
}

// retryRow is the RetryFailed path for one failed ledger entry
func (d *Driver) retryRow(ctx context.Context, task rowTask) outcome {
	if task.claimedElsewhere() {
		return d.fileConflict(ctx, task)
	}
	if fileExists(task.dest) {
		d.refreshExisting(ctx, task)
		return outcomeExisting
	}
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	variants := TitleVariants(task.ref)
	if len(variants) == 0 {
		d.record(ctx, task, models.StatusFailed, ledger.WithError("No episode title to search for"))
		return outcomeFailed
	}

	d.record(ctx, task, models.StatusProcessing,
		ledger.WithReference(task.ref, task.fileName),
		ledger.WithDownloadStarted(d.now()))

	candidate, result, err := d.attempt(ctx, task, variants, d.cfg.RetryAttempts)
	return d.finish(ctx, task, candidate, result, err)
}

// attempt resolves each title in turn and downloads the first hit. The
// catalog hyperlink only accompanies the first title; later ones are search
// relaxations.
func (d *Driver) attempt(ctx context.Context, task rowTask, titles []string, maxAttempts int) (*models.AudioCandidate, *download.Result, error) {
	var lastErr error
	for i, title := range titles {
		link := ""
		if i == 0 {
			link = task.ref.Hyperlink
		}

		candidate, err := d.resolver.Resolve(ctx, link, title, maxAttempts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			d.log.Debug("no audio for title", "identity", task.identity, "title", title, "error", err)
			lastErr = resolveFailure(err)
			continue
		}

		result, err := d.fetchAudio(ctx, task, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = downloadFailure(err)
			continue
		}
		return candidate, result, nil
	}

	if lastErr == nil {
		lastErr = resolveFailure(resolver.ErrNotFound)
	}
	return nil, nil, lastErr
}

// fetchAudio downloads the first of the candidate's URLs that works
func (d *Driver) fetchAudio(ctx context.Context, task rowTask, candidate *models.AudioCandidate) (*download.Result, error) {
	urls := candidate.AllURLs
	if len(urls) == 0 {
		urls = []string{candidate.URL}
	}

	var lastErr error
	for _, u := range urls {
		result, err := d.downloader.Download(ctx, u, task.dest,
			download.InTempDir(task.tempDir),
			download.OnProgress(d.progress(task)))
		if err == nil {
			candidate.URL = u
			return result, nil
		}
		lastErr = err
		d.log.Warn("download failed", "identity", task.identity, "url", u, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// finish records the outcome of an attempt
func (d *Driver) finish(ctx context.Context, task rowTask, candidate *models.AudioCandidate, result *download.Result, err error) outcome {
	switch {
	case err == nil:
		d.record(ctx, task, models.StatusCompleted,
			ledger.WithReference(task.ref, task.fileName),
			ledger.WithCandidate(candidate),
			ledger.WithOutput(result.Path, result.BytesWritten, d.now()))
		d.log.Info("episode downloaded", "identity", task.identity, "file", task.fileName, "bytes", result.BytesWritten)
		return outcomeCompleted

	case ctx.Err() != nil:
		d.record(ctx, task, models.StatusSkipped, ledger.WithError(interruptedMessage))
		d.log.Info("row interrupted", "identity", task.identity)
		return outcomeSkipped

	default:
		msg := ledgerMessage(err)
		d.record(ctx, task, models.StatusFailed, ledger.WithError(msg))
		d.log.Warn("episode failed", "identity", task.identity, "error", msg)
		return outcomeFailed
	}
}

// refreshExisting fills in metadata for a file that is already on disk and
// marks its entry completed. Nothing is downloaded.
func (d *Driver) refreshExisting(ctx context.Context, task rowTask) {
	opts := []ledger.UpsertOption{ledger.WithReference(task.ref, task.fileName)}

	var size int64
	if info, err := audiometa.Read(task.dest); err == nil {
		size = info.Size
		opts = append(opts, ledger.WithMetadata(localMetadata(info), time.Time{}))
	} else {
		d.log.Debug("could not read local audio metadata", "file", task.dest, "error", err)
	}

	if d.needsPageMetadata(ctx, task) {
		opts = append(opts, d.pageMetadata(ctx, task)...)
	}

	opts = append(opts, ledger.WithOutput(task.dest, size, time.Time{}))
	d.record(ctx, task, models.StatusCompleted, opts...)
	d.log.Debug("file already present", "identity", task.identity, "file", task.fileName)
}

// needsPageMetadata is false once an entry has been extracted, so reruns do
// not refetch every page in the catalog
func (d *Driver) needsPageMetadata(ctx context.Context, task rowTask) bool {
	if d.pages == nil || ctx.Err() != nil {
		return false
	}
	entry, err := d.ledger.Get(context.WithoutCancel(ctx), string(task.identity))
	if err != nil {
		return true
	}
	return entry.ExtractedAt == nil
}

func (d *Driver) pageMetadata(ctx context.Context, task rowTask) []ledger.UpsertOption {
	link, ok := resolver.UsableURL(task.ref.Hyperlink)
	if !ok {
		return nil
	}
	text, err := d.pages.Fetch(ctx, link)
	if err != nil {
		d.log.Debug("metadata refresh fetch failed", "identity", task.identity, "url", link, "error", err)
		return nil
	}

	res := d.extractor.Extract(text)
	now := d.now()
	if len(res.AudioURLs) == 0 {
		return []ledger.UpsertOption{ledger.WithMetadata(res.Metadata, now)}
	}
	return []ledger.UpsertOption{ledger.WithCandidate(&models.AudioCandidate{
		URL:         res.AudioURLs[0],
		AllURLs:     res.AudioURLs,
		SourceURL:   link,
		Metadata:    res.Metadata,
		ExtractedAt: now,
	})}
}

// fileOwners maps file names to the identity whose completed entry records
// them. Entries keyed by their file name come from ledgers that predate
// identities and claim nothing.
func (d *Driver) fileOwners(ctx context.Context) map[string]naming.Identity {
	entries, err := d.ledger.ListByStatus(context.WithoutCancel(ctx), models.StatusCompleted)
	if err != nil {
		d.log.Warn("could not list completed entries", "error", err)
		return nil
	}
	owners := make(map[string]naming.Identity, len(entries))
	for _, entry := range entries {
		if entry.MP3File == "" || entry.Identity == entry.MP3File {
			continue
		}
		owners[entry.MP3File] = naming.Identity(entry.Identity)
	}
	return owners
}

// claimedElsewhere is true when the file on disk belongs to another episode
func (t rowTask) claimedElsewhere() bool {
	return t.owner != "" && t.owner != t.identity && fileExists(t.dest)
}

// fileConflict fails a row instead of crediting it with another episode's
// audio
func (d *Driver) fileConflict(ctx context.Context, task rowTask) outcome {
	msg := fmt.Sprintf("File %s is already recorded for %s", task.fileName, task.owner)
	d.record(ctx, task, models.StatusFailed,
		ledger.WithReference(task.ref, task.fileName),
		ledger.WithError(msg))
	d.log.Warn("file name belongs to another episode", "identity", task.identity, "file", task.fileName, "owner", task.owner)
	return outcomeFailed
}

// completedButMissing reports a ledger that claims a file the disk lacks
func (d *Driver) completedButMissing(ctx context.Context, task rowTask) bool {
	entry, err := d.ledger.Get(context.WithoutCancel(ctx), string(task.identity))
	if err != nil {
		return false
	}
	return entry.Status == models.StatusCompleted
}

// record writes to the ledger even after ctx is cancelled so interrupted
// rows are marked. Failures are logged and the run continues.
func (d *Driver) record(ctx context.Context, task rowTask, status models.Status, opts ...ledger.UpsertOption) {
	if _, err := d.ledger.Upsert(context.WithoutCancel(ctx), string(task.identity), status, opts...); err != nil {
		d.log.Error("ledger write failed", "identity", task.identity, "status", status, "error", err)
	}
}

func (d *Driver) progress(task rowTask) download.ProgressFunc {
	if !d.cfg.ShowProgress {
		return nil
	}
	return download.PercentSteps(10, func(percent int) {
		d.log.Debug("download progress", "identity", task.identity, "percent", percent)
	})
}

// retryTask rebuilds a task from a ledger entry. Entries written before the
// file name was recorded get the plain canonical name.
func (d *Driver) retryTask(entry models.LedgerEntry, tempDir string) rowTask {
	ref := entry.Reference()
	fileName := entry.MP3File
	if fileName == "" {
		fileName = naming.FileName(naming.BaseName(d.cfg.SourceTag, ref.Parts(), d.now()), 1)
	}
	return rowTask{
		ref:      ref,
		identity: naming.Identity(entry.Identity),
		fileName: fileName,
		dest:     filepath.Join(d.cfg.OutputDir, fileName),
		tempDir:  tempDir,
	}
}

func (d *Driver) startRun() (*cleanup.RunDir, error) {
	if _, err := d.temp.Sweep(); err != nil {
		d.log.Warn("temp sweep failed", "error", err)
	}
	runDir, err := d.temp.NewRunDir()
	if err != nil {
		return nil, err
	}
	d.log.Debug("run started", "run_id", runDir.ID)
	return runDir, nil
}

func (d *Driver) endRun(runDir *cleanup.RunDir) {
	if err := runDir.Remove(); err != nil {
		d.log.Warn("failed to remove run temp dir", "path", runDir.Path, "error", err)
	}
}

func localMetadata(info *audiometa.Info) models.PageMetadata {
	var meta models.PageMetadata
	if info.Title != "" {
		title := info.Title
		meta.Title = &title
	}
	if d := audiometa.FormatDuration(info.Duration); d != "" {
		meta.Duration = &d
	}
	return meta
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
