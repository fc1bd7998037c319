// Package memory provides the in-memory transactional session state used by
// the service layer. Durable drivers persist its Snapshot as one document.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"varianthunter/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store satisfies the session store interface.
var _ domain.SessionStore = (*Store)(nil)

type (
	// Analysis aliases domain.Analysis for in-memory persistence operations.
	Analysis = domain.Analysis
	// LocalOpt aliases domain.LocalOpt.
	LocalOpt = domain.LocalOpt
	// Tag aliases domain.Tag.
	Tag = domain.Tag
	// WorkingPanel aliases domain.WorkingPanel.
	WorkingPanel = domain.WorkingPanel
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// SchemaVersion tags every exported snapshot. Stored documents carrying a
// different version are discarded on load.
const SchemaVersion = "2"

type memoryState struct {
	analyses    map[int]Analysis
	localOpt    map[int]LocalOpt
	tags        map[string]Tag
	current     *int
	panel       WorkingPanel
	lastUpdate  time.Time
	datasetInfo domain.DatasetInfo
	version     string
	reset       bool
}

// Snapshot captures a point-in-time clone of the store state. It is the
// persisted document exchanged with durable stores.
type Snapshot struct {
	Analyses          map[int]Analysis   `json:"analyses"`
	LocalOpt          map[int]LocalOpt   `json:"localOpt"`
	Tags              map[string]Tag     `json:"tags"`
	CurrentAnalysisID *int               `json:"currentAnalysisId"`
	WorkingPanel
	LastUpdate  time.Time          `json:"lastUpdate"`
	DatasetInfo domain.DatasetInfo `json:"datasetInfo"`
	Version     string             `json:"version"`
	Reset       bool               `json:"reset"`
}

func newMemoryState() memoryState {
	return memoryState{
		analyses: make(map[int]Analysis),
		localOpt: make(map[int]LocalOpt),
		tags:     make(map[string]Tag),
		version:  SchemaVersion,
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Analyses:          make(map[int]Analysis, len(state.analyses)),
		LocalOpt:          make(map[int]LocalOpt, len(state.localOpt)),
		Tags:              make(map[string]Tag, len(state.tags)),
		CurrentAnalysisID: cloneIntPtr(state.current),
		WorkingPanel:      clonePanel(state.panel),
		LastUpdate:        state.lastUpdate,
		DatasetInfo:       maps.Clone(state.datasetInfo),
		Version:           state.version,
		Reset:             state.reset,
	}
	for k, v := range state.analyses {
		s.Analyses[k] = cloneAnalysis(v)
	}
	for k, v := range state.localOpt {
		s.LocalOpt[k] = cloneLocalOpt(v)
	}
	for k, v := range state.tags {
		s.Tags[k] = cloneTag(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Analyses {
		state.analyses[k] = cloneAnalysis(v)
	}
	for k, v := range s.LocalOpt {
		state.localOpt[k] = cloneLocalOpt(v)
	}
	for k, v := range s.Tags {
		state.tags[k] = cloneTag(v)
	}
	state.current = cloneIntPtr(s.CurrentAnalysisID)
	state.panel = clonePanel(s.WorkingPanel)
	state.lastUpdate = s.LastUpdate
	state.datasetInfo = maps.Clone(s.DatasetInfo)
	state.version = s.Version
	state.reset = s.Reset
	return state
}

// migrateSnapshot normalizes a decoded document: nil collections become
// empty, analysis keys win over embedded ids, every analysis has exactly one
// LocalOpt and the current pointer never dangles.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Analyses == nil {
		snapshot.Analyses = map[int]Analysis{}
	}
	if snapshot.LocalOpt == nil {
		snapshot.LocalOpt = map[int]LocalOpt{}
	}
	if snapshot.Tags == nil {
		snapshot.Tags = map[string]Tag{}
	}
	if snapshot.Version == "" {
		snapshot.Version = SchemaVersion
	}

	for id, analysis := range snapshot.Analyses {
		analysis.ID = id
		snapshot.Analyses[id] = analysis
		if _, ok := snapshot.LocalOpt[id]; !ok {
			snapshot.LocalOpt[id] = domain.DefaultLocalOpt()
		}
	}
	for id, opt := range snapshot.LocalOpt {
		if _, ok := snapshot.Analyses[id]; !ok {
			delete(snapshot.LocalOpt, id)
			continue
		}
		snapshot.LocalOpt[id] = normalizeLocalOpt(opt)
	}
	for name, tag := range snapshot.Tags {
		tag.Name = name
		tag.Opt = normalizeOpt(tag.Opt)
		snapshot.Tags[name] = tag
	}
	if snapshot.CurrentAnalysisID != nil {
		if _, ok := snapshot.Analyses[*snapshot.CurrentAnalysisID]; !ok {
			snapshot.CurrentAnalysisID = nil
		}
	}
	return snapshot
}

func normalizeOpt(o domain.Opt) domain.Opt {
	if o.Muts == nil {
		o.Muts = []string{}
	}
	if o.RowKeys == nil {
		o.RowKeys = []string{}
	}
	if o.SortingIndexes == nil {
		o.SortingIndexes = []string{}
	}
	if o.IsDescSorting == nil {
		o.IsDescSorting = []bool{}
	}
	return o
}

func normalizeLocalOpt(o LocalOpt) LocalOpt {
	o.Opt = normalizeOpt(o.Opt)
	return o
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAnalysis(a Analysis) Analysis {
	cp := a
	cp.Tag = cloneStringPtr(a.Tag)
	cp.Notes = cloneStringPtr(a.Notes)
	if a.CharacterizingMutations != nil {
		cp.CharacterizingMutations = slices.Clone(a.CharacterizingMutations)
	}
	cp.Rows = slices.Clone(a.Rows)
	cp.Query.Lineage = cloneStringPtr(a.Query.Lineage)
	cp.Query.Location = domain.Location{
		Continent: cloneStringPtr(a.Query.Location.Continent),
		Country:   cloneStringPtr(a.Query.Location.Country),
		Region:    cloneStringPtr(a.Query.Location.Region),
	}
	cp.Query.DatasetInfo = maps.Clone(a.Query.DatasetInfo)
	return cp
}

func cloneLocalOpt(o LocalOpt) LocalOpt {
	return LocalOpt{UseLocalOpt: o.UseLocalOpt, Opt: o.Opt.Clone()}
}

func cloneTag(t Tag) Tag {
	cp := t
	cp.Opt = t.Opt.Clone()
	return cp
}

func clonePanel(p WorkingPanel) WorkingPanel {
	cp := p
	if p.Granularity != nil {
		g := *p.Granularity
		cp.Granularity = &g
	}
	if p.Location != nil {
		loc := domain.Location{
			Continent: cloneStringPtr(p.Location.Continent),
			Country:   cloneStringPtr(p.Location.Country),
			Region:    cloneStringPtr(p.Location.Region),
		}
		cp.Location = &loc
	}
	cp.Lineage = cloneStringPtr(p.Lineage)
	cp.Date = cloneStringPtr(p.Date)
	if p.Locations != nil {
		cp.Locations = slices.Clone(p.Locations)
	}
	if p.Lineages != nil {
		cp.Lineages = slices.Clone(p.Lineages)
	}
	cp.LocationsInfo = maps.Clone(p.LocationsInfo)
	return cp
}

// Store provides an in-memory transactional store for the session state.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider. A nil fn restores the wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListAnalyses returns every analysis ordered by ascending id.
func (v transactionView) ListAnalyses() []Analysis {
	return listAnalyses(v.state)
}

// FindAnalysis retrieves an analysis by id.
func (v transactionView) FindAnalysis(id int) (Analysis, bool) {
	a, ok := v.state.analyses[id]
	if !ok {
		return Analysis{}, false
	}
	return cloneAnalysis(a), true
}

// FindLocalOpt retrieves the local configuration of an analysis.
func (v transactionView) FindLocalOpt(id int) (LocalOpt, bool) {
	o, ok := v.state.localOpt[id]
	if !ok {
		return LocalOpt{}, false
	}
	return cloneLocalOpt(o), true
}

// ListTags returns every tag ordered by name.
func (v transactionView) ListTags() []Tag {
	return listTags(v.state)
}

// FindTag retrieves a tag by its registry key.
func (v transactionView) FindTag(name string) (Tag, bool) {
	t, ok := v.state.tags[name]
	if !ok {
		return Tag{}, false
	}
	return cloneTag(t), true
}

// CurrentAnalysisID returns the current analysis pointer.
func (v transactionView) CurrentAnalysisID() (int, bool) {
	if v.state.current == nil {
		return 0, false
	}
	return *v.state.current, true
}

// Panel returns the analysis-definition panel state.
func (v transactionView) Panel() WorkingPanel { return clonePanel(v.state.panel) }

// DatasetInfo returns the last delivered dataset provenance.
func (v transactionView) DatasetInfo() domain.DatasetInfo { return maps.Clone(v.state.datasetInfo) }

func listAnalyses(state *memoryState) []Analysis {
	out := make([]Analysis, 0, len(state.analyses))
	for _, a := range state.analyses {
		out = append(out, cloneAnalysis(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listTags(state *memoryState) []Tag {
	out := make([]Tag, 0, len(state.tags))
	for _, t := range state.tags {
		out = append(out, cloneTag(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if len(tx.changes) > 0 {
		tx.state.lastUpdate = tx.now
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) nextAnalysisID() int {
	next := 0
	for id := range tx.state.analyses {
		if id+1 > next {
			next = id + 1
		}
	}
	return next
}

func (tx *transaction) setCurrent(id *int) {
	before := cloneIntPtr(tx.state.current)
	tx.state.current = cloneIntPtr(id)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, Before: before, After: cloneIntPtr(id)})
}

// AddAnalysis stores a new analysis under the next free id, seeds its
// default LocalOpt and makes it current.
func (tx *transaction) AddAnalysis(a Analysis) (Analysis, error) {
	a.ID = tx.nextAnalysisID()
	if a.Query.ExecutedAt.IsZero() {
		a.Query.ExecutedAt = tx.now
	}
	if a.Rows == nil {
		a.Rows = []domain.MutationRow{}
	}
	tx.state.analyses[a.ID] = cloneAnalysis(a)
	opt := domain.DefaultLocalOpt()
	tx.state.localOpt[a.ID] = opt
	tx.recordChange(Change{Entity: domain.EntityAnalysis, Action: domain.ActionCreate, After: cloneAnalysis(a)})
	tx.recordChange(Change{Entity: domain.EntityLocalOpt, Action: domain.ActionCreate, After: cloneLocalOpt(opt)})
	id := a.ID
	tx.setCurrent(&id)
	return cloneAnalysis(a), nil
}

// UpdateAnalysis mutates the user-editable fields of an analysis. Id, query
// and rows are restored after the mutator runs.
func (tx *transaction) UpdateAnalysis(id int, mutator func(*Analysis) error) (Analysis, error) {
	current, ok := tx.state.analyses[id]
	if !ok {
		return Analysis{}, domain.NotFoundError{Entity: domain.EntityAnalysis, ID: fmt.Sprint(id)}
	}
	before := cloneAnalysis(current)
	if err := mutator(&current); err != nil {
		return Analysis{}, err
	}
	current.ID = id
	current.Query = before.Query
	current.Rows = before.Rows
	current.TotalSequenceCounts = before.TotalSequenceCounts
	current.CharacterizingMutations = before.CharacterizingMutations
	tx.state.analyses[id] = cloneAnalysis(current)
	tx.recordChange(Change{Entity: domain.EntityAnalysis, Action: domain.ActionUpdate, Before: before, After: cloneAnalysis(current)})
	return cloneAnalysis(current), nil
}

// RemoveAnalysis deletes an analysis with its LocalOpt and clears the
// current pointer when it referenced the removed analysis.
func (tx *transaction) RemoveAnalysis(id int) error {
	current, ok := tx.state.analyses[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityAnalysis, ID: fmt.Sprint(id)}
	}
	delete(tx.state.analyses, id)
	tx.recordChange(Change{Entity: domain.EntityAnalysis, Action: domain.ActionDelete, Before: cloneAnalysis(current)})
	if opt, ok := tx.state.localOpt[id]; ok {
		delete(tx.state.localOpt, id)
		tx.recordChange(Change{Entity: domain.EntityLocalOpt, Action: domain.ActionDelete, Before: cloneLocalOpt(opt)})
	}
	if tx.state.current != nil && *tx.state.current == id {
		tx.setCurrent(nil)
	}
	return nil
}

// SetCurrentAnalysis moves the current pointer. A nil id clears it.
func (tx *transaction) SetCurrentAnalysis(id *int) error {
	if id != nil {
		if _, ok := tx.state.analyses[*id]; !ok {
			return domain.NotFoundError{Entity: domain.EntityAnalysis, ID: fmt.Sprint(*id)}
		}
	}
	tx.setCurrent(id)
	return nil
}

// UpdateLocalOpt mutates the local configuration of an analysis.
func (tx *transaction) UpdateLocalOpt(id int, mutator func(*LocalOpt) error) (LocalOpt, error) {
	current, ok := tx.state.localOpt[id]
	if !ok {
		return LocalOpt{}, domain.NotFoundError{Entity: domain.EntityLocalOpt, ID: fmt.Sprint(id)}
	}
	before := cloneLocalOpt(current)
	if err := mutator(&current); err != nil {
		return LocalOpt{}, err
	}
	current = normalizeLocalOpt(current)
	tx.state.localOpt[id] = cloneLocalOpt(current)
	tx.recordChange(Change{Entity: domain.EntityLocalOpt, Action: domain.ActionUpdate, Before: before, After: cloneLocalOpt(current)})
	return cloneLocalOpt(current), nil
}

// CreateTag stores a new tag keyed by its name.
func (tx *transaction) CreateTag(t Tag) (Tag, error) {
	if t.Name == "" {
		return Tag{}, fmt.Errorf("tag name required")
	}
	if _, exists := tx.state.tags[t.Name]; exists {
		return Tag{}, fmt.Errorf("tag %q: %w", t.Name, domain.ErrAlreadyExists)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.now
	}
	t.Opt = normalizeOpt(t.Opt)
	tx.state.tags[t.Name] = cloneTag(t)
	tx.recordChange(Change{Entity: domain.EntityTag, Action: domain.ActionCreate, After: cloneTag(t)})
	return cloneTag(t), nil
}

// UpdateTag mutates a tag. The registry key and creation time are preserved.
func (tx *transaction) UpdateTag(name string, mutator func(*Tag) error) (Tag, error) {
	current, ok := tx.state.tags[name]
	if !ok {
		return Tag{}, domain.NotFoundError{Entity: domain.EntityTag, ID: name}
	}
	before := cloneTag(current)
	if err := mutator(&current); err != nil {
		return Tag{}, err
	}
	current.Name = name
	current.CreatedAt = before.CreatedAt
	current.Opt = normalizeOpt(current.Opt)
	tx.state.tags[name] = cloneTag(current)
	tx.recordChange(Change{Entity: domain.EntityTag, Action: domain.ActionUpdate, Before: before, After: cloneTag(current)})
	return cloneTag(current), nil
}

// RenameTag copies the content of oldName under newName. An existing
// newName is left untouched and returned. The old entry is kept; callers
// delete it once members have been re-pointed.
func (tx *transaction) RenameTag(oldName, newName string) (Tag, error) {
	if existing, ok := tx.state.tags[newName]; ok {
		return cloneTag(existing), nil
	}
	current, ok := tx.state.tags[oldName]
	if !ok {
		return Tag{}, domain.NotFoundError{Entity: domain.EntityTag, ID: oldName}
	}
	renamed := cloneTag(current)
	renamed.Name = newName
	tx.state.tags[newName] = cloneTag(renamed)
	tx.recordChange(Change{Entity: domain.EntityTag, Action: domain.ActionCreate, Before: cloneTag(current), After: cloneTag(renamed)})
	return renamed, nil
}

// DeleteTag removes a tag. Analyses referencing it are left untouched.
func (tx *transaction) DeleteTag(name string) error {
	current, ok := tx.state.tags[name]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityTag, ID: name}
	}
	delete(tx.state.tags, name)
	tx.recordChange(Change{Entity: domain.EntityTag, Action: domain.ActionDelete, Before: cloneTag(current)})
	return nil
}

// UpdatePanel mutates the analysis-definition panel state.
func (tx *transaction) UpdatePanel(mutator func(*WorkingPanel) error) error {
	current := clonePanel(tx.state.panel)
	before := clonePanel(current)
	if err := mutator(&current); err != nil {
		return err
	}
	tx.state.panel = clonePanel(current)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, Before: before, After: clonePanel(current)})
	return nil
}

// SetDatasetInfo records the provenance delivered with the latest results.
func (tx *transaction) SetDatasetInfo(info domain.DatasetInfo) {
	before := maps.Clone(tx.state.datasetInfo)
	tx.state.datasetInfo = maps.Clone(info)
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, Before: before, After: maps.Clone(info)})
}

// MarkReset flags the state so the next load starts from scratch.
func (tx *transaction) MarkReset() {
	tx.state.reset = true
	tx.recordChange(Change{Entity: domain.EntitySession, Action: domain.ActionUpdate, After: true})
}

// Read helpers ---------------------------------------------------------------

// GetAnalysis retrieves an analysis by id from committed state.
func (s *Store) GetAnalysis(id int) (Analysis, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.analyses[id]
	if !ok {
		return Analysis{}, false
	}
	return cloneAnalysis(a), true
}

// ListAnalyses returns all analyses from committed state ordered by id.
func (s *Store) ListAnalyses() []Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAnalyses(&s.state)
}

// ListTags returns all tags from committed state ordered by name.
func (s *Store) ListTags() []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTags(&s.state)
}

// CurrentAnalysisID returns the committed current pointer.
func (s *Store) CurrentAnalysisID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.current == nil {
		return 0, false
	}
	return *s.state.current, true
}
