package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"varianthunter/internal/blob"
	"varianthunter/pkg/domain"
)

// KeyPrefix is the blob prefix every export artifact is stored under.
const KeyPrefix = "exports/"

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Selection picks which rows of an analysis are exported.
type Selection string

const (
	// SelectionSorted exports the filtered rows in table order.
	SelectionSorted Selection = "sorted"
	// SelectionSelected exports only the rows picked for plotting.
	SelectionSelected Selection = "selected"
)

var (
	// ErrQueueFull is returned when the worker cannot accept more requests.
	ErrQueueFull           = errors.New("export queue full")
	// ErrExportBusy is returned when deleting an export that has not finished.
	ErrExportBusy          = errors.New("export still in progress")
	// ErrInvalidArtifactName is returned for artifact names that are not a
	// single path element.
	ErrInvalidArtifactName = errors.New("invalid artifact name")
)

// Source resolves analyses and their derived row sets.
type Source interface {
	Analysis(ctx context.Context, id int) (domain.Analysis, bool)
	SortedRows(ctx context.Context, id int) ([]domain.MutationRow, bool, error)
	SelectedRows(ctx context.Context, id int) ([]domain.MutationRow, bool)
}

// Logger is the structured logger used for export progress.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Artifact captures one stored rendering.
type Artifact struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Request describes an export of one analysis.
type Request struct {
	AnalysisID  int       `json:"analysisId"`
	Formats     []Format  `json:"formats"`
	Selection   Selection `json:"selection"`
	RequestedBy string    `json:"requestedBy,omitempty"`
}

// ExportRecord tracks an export request and resulting artifacts.
type ExportRecord struct {
	ID          string     `json:"id"`
	AnalysisID  int        `json:"analysisId"`
	Selection   Selection  `json:"selection"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the exporter logger.
func WithLogger(l Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithURLExpiry sets the lifetime of pre-signed download URLs.
func WithURLExpiry(d time.Duration) Option {
	return func(e *Exporter) {
		if d > 0 {
			e.urlExpiry = d
		}
	}
}

// Exporter renders analyses and writes the artifacts to a blob store.
type Exporter struct {
	source    Source
	store     blob.Store
	logger    Logger
	now       func() time.Time
	urlExpiry time.Duration
}

// NewExporter constructs an exporter over the given source and blob store.
func NewExporter(source Source, store blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		source:    source,
		store:     store,
		logger:    nopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
		urlExpiry: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export renders and stores every requested format synchronously.
func (e *Exporter) Export(ctx context.Context, req Request) (ExportRecord, error) {
	rec, err := e.newRecord(req)
	if err != nil {
		return ExportRecord{}, err
	}
	doc, err := e.document(ctx, rec.AnalysisID, rec.Selection)
	if err != nil {
		return ExportRecord{}, err
	}
	artifacts, err := e.write(ctx, rec.ID, doc, rec.Formats)
	if err != nil {
		return ExportRecord{}, err
	}
	now := e.now()
	rec.Status = StatusSucceeded
	rec.Artifacts = artifacts
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	return rec, nil
}

// Document builds the export document without storing anything.
func (e *Exporter) Document(ctx context.Context, id int, sel Selection) (Document, error) {
	sel, err := normalizeSelection(sel)
	if err != nil {
		return Document{}, err
	}
	return e.document(ctx, id, sel)
}

// Artifacts lists stored export artifacts, optionally for one export id.
func (e *Exporter) Artifacts(ctx context.Context, exportID string) ([]blob.Info, error) {
	prefix := KeyPrefix
	if exportID != "" {
		prefix += exportID + "/"
	}
	return e.store.List(ctx, prefix)
}

// Stat returns the stored metadata of one artifact of an export.
func (e *Exporter) Stat(ctx context.Context, exportID, name string) (blob.Info, error) {
	if exportID == "" || name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return blob.Info{}, fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	key := KeyPrefix + exportID + "/" + name
	info, err := e.store.Head(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return blob.Info{}, domain.NotFoundError{Entity: "export artifact", ID: key}
	}
	if err != nil {
		return blob.Info{}, fmt.Errorf("head %s: %w", key, err)
	}
	return info, nil
}

// Delete removes every stored artifact of an export and reports how many
// were removed.
func (e *Exporter) Delete(ctx context.Context, exportID string) (int, error) {
	if exportID == "" {
		return 0, errors.New("export id required")
	}
	infos, err := e.store.List(ctx, KeyPrefix+exportID+"/")
	if err != nil {
		return 0, fmt.Errorf("list export %s: %w", exportID, err)
	}
	removed := 0
	for _, info := range infos {
		existed, err := e.store.Delete(ctx, info.Key)
		if err != nil {
			return removed, fmt.Errorf("delete %s: %w", info.Key, err)
		}
		if existed {
			removed++
		}
	}
	e.logger.Debug("export artifacts deleted", "export_id", exportID, "removed", removed)
	return removed, nil
}

func (e *Exporter) newRecord(req Request) (ExportRecord, error) {
	sel, err := normalizeSelection(req.Selection)
	if err != nil {
		return ExportRecord{}, err
	}
	formats, err := uniqueFormats(req.Formats)
	if err != nil {
		return ExportRecord{}, err
	}
	now := e.now()
	return ExportRecord{
		ID:          uuid.NewString(),
		AnalysisID:  req.AnalysisID,
		Selection:   sel,
		Formats:     formats,
		Status:      StatusQueued,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (e *Exporter) document(ctx context.Context, id int, sel Selection) (Document, error) {
	a, ok := e.source.Analysis(ctx, id)
	if !ok {
		return Document{}, fmt.Errorf("analysis %d: %w", id, domain.ErrNotFound)
	}
	var rows []domain.MutationRow
	switch sel {
	case SelectionSelected:
		rows, _ = e.source.SelectedRows(ctx, id)
	default:
		var err error
		rows, _, err = e.source.SortedRows(ctx, id)
		if err != nil {
			return Document{}, fmt.Errorf("sort rows: %w", err)
		}
	}
	return NewDocument(a, rows), nil
}

func (e *Exporter) write(ctx context.Context, exportID string, doc Document, formats []Format) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		payload, err := Render(doc, format)
		if err != nil {
			return nil, err
		}
		name := doc.Name + "." + string(format)
		key := path.Join(KeyPrefix+exportID, name)
		info, err := e.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: format.ContentType(),
			Metadata: map[string]string{
				"analysis_id": fmt.Sprint(doc.AnalysisID),
				"export_id":   exportID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", key, err)
		}
		url, err := e.store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: e.urlExpiry})
		if err != nil && !errors.Is(err, blob.ErrUnsupported) {
			e.logger.Warn("presign export artifact failed", "key", key, "error", err)
		}
		created := info.LastModified
		if created.IsZero() {
			created = e.now()
		}
		artifacts = append(artifacts, Artifact{
			Key:         key,
			Name:        name,
			Format:      format,
			ContentType: format.ContentType(),
			SizeBytes:   int64(len(payload)),
			URL:         url,
			CreatedAt:   created,
		})
		e.logger.Debug("export artifact stored", "key", key, "driver", string(e.store.Driver()), "bytes", len(payload))
	}
	return artifacts, nil
}

func normalizeSelection(sel Selection) (Selection, error) {
	switch Selection(strings.ToLower(string(sel))) {
	case "", SelectionSorted:
		return SelectionSorted, nil
	case SelectionSelected:
		return SelectionSelected, nil
	}
	return "", fmt.Errorf("unsupported row selection %q", sel)
}

func uniqueFormats(formats []Format) ([]Format, error) {
	if len(formats) == 0 {
		return []Format{FormatCSV}, nil
	}
	out := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		parsed, err := ParseFormat(string(f))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[parsed]; dup {
			continue
		}
		seen[parsed] = struct{}{}
		out = append(out, parsed)
	}
	return out, nil
}

// Worker executes exports asynchronously.
type Worker struct {
	exporter *Exporter

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker with room for queueSize pending exports.
func NewWorker(e *Exporter, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		exporter: e,
		queue:    make(chan string, queueSize),
		jobs:     make(map[string]*ExportRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates the request, schedules it and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, req Request) (ExportRecord, error) {
	if _, ok := w.exporter.source.Analysis(ctx, req.AnalysisID); !ok {
		return ExportRecord{}, fmt.Errorf("analysis %d: %w", req.AnalysisID, domain.ErrNotFound)
	}
	rec, err := w.exporter.newRecord(req)
	if err != nil {
		return ExportRecord{}, err
	}

	w.mu.Lock()
	w.jobs[rec.ID] = &rec
	queued := rec.copy()
	w.mu.Unlock()

	select {
	case w.queue <- rec.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, rec.ID)
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	w.exporter.logger.Info("export queued", "export_id", rec.ID, "analysis_id", rec.AnalysisID)
	return queued, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return rec.copy(), true
}

// Delete forgets a finished export and removes its artifacts. Queued or
// running exports yield ErrExportBusy.
func (w *Worker) Delete(ctx context.Context, id string) error {
	w.mu.RLock()
	rec, ok := w.jobs[id]
	var status Status
	if ok {
		status = rec.Status
	}
	w.mu.RUnlock()
	if !ok {
		return domain.NotFoundError{Entity: "export", ID: id}
	}
	if status == StatusQueued || status == StatusRunning {
		return fmt.Errorf("%w: %s is %s", ErrExportBusy, id, status)
	}
	if _, err := w.exporter.Delete(ctx, id); err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.jobs, id)
	w.mu.Unlock()
	w.exporter.logger.Info("export deleted", "export_id", id)
	return nil
}

func (w *Worker) process(id string) {
	w.mu.RLock()
	rec, ok := w.jobs[id]
	var snapshot ExportRecord
	if ok {
		snapshot = rec.copy()
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.update(id, func(r *ExportRecord) { r.Status = StatusRunning })
	doc, err := w.exporter.document(w.ctx, snapshot.AnalysisID, snapshot.Selection)
	if err != nil {
		w.fail(id, err)
		return
	}
	artifacts, err := w.exporter.write(w.ctx, id, doc, snapshot.Formats)
	if err != nil {
		w.fail(id, err)
		return
	}
	w.update(id, func(r *ExportRecord) {
		r.Status = StatusSucceeded
		r.Error = ""
		r.Artifacts = artifacts
		now := r.UpdatedAt
		r.CompletedAt = &now
	})
	w.exporter.logger.Info("export succeeded", "export_id", id, "artifacts", len(artifacts))
}

func (w *Worker) fail(id string, err error) {
	w.update(id, func(r *ExportRecord) {
		r.Status = StatusFailed
		r.Error = err.Error()
		now := r.UpdatedAt
		r.CompletedAt = &now
	})
	w.exporter.logger.Warn("export failed", "export_id", id, "error", err)
}

func (w *Worker) update(id string, mutate func(*ExportRecord)) {
	now := w.exporter.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.jobs[id]; ok {
		rec.UpdatedAt = now
		mutate(rec)
	}
}
