package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"varianthunter/internal/color"
	"varianthunter/internal/infra/persistence/memory"
	"varianthunter/internal/weeks"
	"varianthunter/pkg/domain"
)

var (
	// ErrNoCurrentAnalysis is returned by operations acting on the current analysis when none is set.
	ErrNoCurrentAnalysis = errors.New("no current analysis")
	// ErrNoTag is returned when a tag-scoped option is set on an untagged analysis.
	ErrNoTag = errors.New("current analysis has no tag")
	// ErrInvalidOpt is returned for unknown option fields or mistyped values.
	ErrInvalidOpt = errors.New("invalid option")
)

// Option field names accepted by SetOpt and SetTagOpt.
const (
	OptUseLocalOpt    = "useLocalOpt"
	OptProtein        = "protein"
	OptMuts           = "muts"
	OptRowKeys        = "rowKeys"
	OptSortingIndexes = "sortingIndexes"
	OptIsDescSorting  = "isDescSorting"
)

// groupTagPrefix names tags synthesized by AddGroupAnalysis.
const groupTagPrefix = "TAG "

// AnalysisMetadata describes the query a result set was computed for.
type AnalysisMetadata struct {
	Location    Location    `json:"location"`
	Date        string      `json:"date" validate:"required,datetime=2006-01-02"`
	Lineage     *string     `json:"lineage"`
	DatasetInfo DatasetInfo `json:"datasetInfo"`
}

// AnalysisInput is a completed result delivered by the fetch collaborator.
type AnalysisInput struct {
	Rows                    []MutationRow    `json:"rows"`
	TotalSequenceCounts     [4]int           `json:"totalSequenceCounts"`
	CharacterizingMutations []string         `json:"characterizingMutations"`
	Metadata                AnalysisMetadata `json:"metadata"`
	// Tag, when set, is added or assigned after the analysis is stored.
	Tag *string `json:"tag,omitempty"`
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	colors    *color.Generator
	persister *Persister
	now       func() time.Time
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the operation tracer.
func WithTracer(t Tracer) Option {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithColorGenerator sets the tag color source.
func WithColorGenerator(g *color.Generator) Option {
	return func(o *serviceOptions) { o.colors = g }
}

// WithPersister schedules a snapshot write after every committed mutation.
func WithPersister(p *Persister) Option {
	return func(o *serviceOptions) { o.persister = p }
}

// WithClock overrides the execution timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Service owns the session state and exposes its command surface. Every
// mutation runs in a single store transaction.
type Service struct {
	store *memory.Store
	serviceOptions
}

// NewService constructs a service backed by the supplied store.
func NewService(store *memory.Store, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.colors == nil {
		o.colors = color.NewGenerator(nil)
	}
	return &Service{store: store, serviceOptions: o}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying session store.
func (s *Service) Store() *memory.Store { return s.store }

// Snapshot exports the committed session state.
func (s *Service) Snapshot() memory.Snapshot { return s.store.ExportState() }

// Restore loads the stored session through the load policy. It reports
// whether a stored document was accepted.
func (s *Service) Restore(ctx context.Context, store DocumentStore) (bool, error) {
	snapshot, accepted, err := LoadSnapshot(ctx, store, s.logger)
	if err != nil || !accepted {
		return false, err
	}
	s.store.ImportState(snapshot)
	s.logger.Info("session restored", "analyses", len(snapshot.Analyses), "tags", len(snapshot.Tags))
	return true, nil
}

func (s *Service) run(ctx context.Context, op string, fn func(tx Transaction) error) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	if err != nil {
		s.logger.Warn("operation failed", "operation", op, "error", err.Error())
		return res, err
	}
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			s.logger.Warn("rule warning", "operation", op, "rule", v.Rule, "message", v.Message)
		} else {
			s.logger.Debug("rule note", "operation", op, "rule", v.Rule, "message", v.Message)
		}
	}
	s.logger.Debug("operation applied", "operation", op)
	if s.persister != nil {
		s.persister.Notify()
	}
	return res, nil
}

func (s *Service) buildAnalysis(in AnalysisInput) (Analysis, error) {
	labels, err := weeks.Labels(in.Metadata.Date)
	if err != nil {
		return Analysis{}, err
	}
	var chars []string
	if in.CharacterizingMutations != nil {
		chars = append([]string{}, in.CharacterizingMutations...)
	}
	return Analysis{
		Query: Query{
			Granularity: in.Metadata.Location.Granularity(),
			Location:    in.Metadata.Location,
			EndDate:     in.Metadata.Date,
			Lineage:     in.Metadata.Lineage,
			Weeks:       labels,
			ExecutedAt:  s.now(),
			DatasetInfo: in.Metadata.DatasetInfo,
		},
		CharacterizingMutations: chars,
		Rows:                    append([]MutationRow{}, in.Rows...),
		TotalSequenceCounts:     in.TotalSequenceCounts,
	}, nil
}

func (s *Service) storeAnalysis(tx Transaction, in AnalysisInput) (Analysis, error) {
	a, err := s.buildAnalysis(in)
	if err != nil {
		return Analysis{}, err
	}
	added, err := tx.AddAnalysis(a)
	if err != nil {
		return Analysis{}, err
	}
	if in.Metadata.DatasetInfo != nil {
		tx.SetDatasetInfo(in.Metadata.DatasetInfo)
	}
	return added, nil
}

// addOrAssignTag creates the normalized tag when missing and assigns it to
// the current analysis, if any. It returns the registry key.
func (s *Service) addOrAssignTag(tx Transaction, name string) (string, error) {
	key := domain.NormalizeTagName(name)
	if key == "" {
		return "", fmt.Errorf("%w: empty tag name", ErrInvalidOpt)
	}
	view := tx.Snapshot()
	if _, ok := view.FindTag(key); !ok {
		if _, err := tx.CreateTag(Tag{Name: key, Color: s.colors.Random(), Opt: domain.DefaultOpt()}); err != nil {
			return "", err
		}
	}
	if id, ok := view.CurrentAnalysisID(); ok {
		if _, err := tx.UpdateAnalysis(id, func(a *Analysis) error {
			a.Tag = &key
			return nil
		}); err != nil {
			return "", err
		}
	}
	return key, nil
}

// AddAnalysis stores a new analysis, makes it current and optionally tags it.
func (s *Service) AddAnalysis(ctx context.Context, in AnalysisInput) (Analysis, Result, error) {
	var created Analysis
	res, err := s.run(ctx, "add_analysis", func(tx Transaction) error {
		added, err := s.storeAnalysis(tx, in)
		if err != nil {
			return err
		}
		if in.Tag != nil {
			if _, err := s.addOrAssignTag(tx, *in.Tag); err != nil {
				return err
			}
		}
		created, _ = tx.Snapshot().FindAnalysis(added.ID)
		return nil
	})
	return created, res, err
}

// AddGroupAnalysis adds an analysis sharing the current analysis's tag. An
// untagged current analysis first receives a fresh "TAG n" seeded from its
// local configuration and switches to tag scope. The new analysis follows
// tag scope when the tag was just created or the previous analysis already
// followed it.
func (s *Service) AddGroupAnalysis(ctx context.Context, in AnalysisInput) (Analysis, Result, error) {
	var created Analysis
	res, err := s.run(ctx, "add_group_analysis", func(tx Transaction) error {
		view := tx.Snapshot()
		current, ok := CurrentAnalysis(view)
		if !ok {
			return ErrNoCurrentAnalysis
		}
		var (
			tagName   string
			enableTag bool
		)
		if current.Tag == nil {
			tagName = nextGroupTagName(view.ListTags())
			if _, err := s.addOrAssignTag(tx, tagName); err != nil {
				return err
			}
			local, ok := view.FindLocalOpt(current.ID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityLocalOpt, ID: strconv.Itoa(current.ID)}
			}
			if _, err := tx.UpdateTag(tagName, func(t *Tag) error {
				t.Opt = local.Opt.Clone()
				return nil
			}); err != nil {
				return err
			}
			if _, err := tx.UpdateLocalOpt(current.ID, func(o *LocalOpt) error {
				o.UseLocalOpt = false
				return nil
			}); err != nil {
				return err
			}
			enableTag = true
		} else {
			tagName = *current.Tag
			useLocal, _ := UseLocalOpt(view, current.ID)
			enableTag = !useLocal
		}

		added, err := s.storeAnalysis(tx, in)
		if err != nil {
			return err
		}
		if _, err := s.addOrAssignTag(tx, tagName); err != nil {
			return err
		}
		if enableTag {
			if _, err := tx.UpdateLocalOpt(added.ID, func(o *LocalOpt) error {
				o.UseLocalOpt = false
				return nil
			}); err != nil {
				return err
			}
		}
		created, _ = view.FindAnalysis(added.ID)
		return nil
	})
	return created, res, err
}

func nextGroupTagName(tags []Tag) string {
	existing := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		existing[t.Name] = struct{}{}
	}
	for n := 1; ; n++ {
		name := groupTagPrefix + strconv.Itoa(n)
		if _, taken := existing[name]; !taken {
			return name
		}
	}
}

// RemoveAnalysis deletes an analysis and its LocalOpt.
func (s *Service) RemoveAnalysis(ctx context.Context, id int) (Result, error) {
	return s.run(ctx, "remove_analysis", func(tx Transaction) error {
		return tx.RemoveAnalysis(id)
	})
}

// ClearHistory removes every analysis and clears the current pointer.
func (s *Service) ClearHistory(ctx context.Context) (Result, error) {
	return s.run(ctx, "clear_history", func(tx Transaction) error {
		if err := tx.SetCurrentAnalysis(nil); err != nil {
			return err
		}
		for _, a := range tx.Snapshot().ListAnalyses() {
			if err := tx.RemoveAnalysis(a.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetStarred flips the starred flag of an analysis.
func (s *Service) SetStarred(ctx context.Context, id int, starred bool) (Analysis, Result, error) {
	var updated Analysis
	res, err := s.run(ctx, "set_starred", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateAnalysis(id, func(a *Analysis) error {
			a.Starred = starred
			return nil
		})
		return err
	})
	return updated, res, err
}

// SetNotes sets the notes of the current analysis. A nil note clears them.
func (s *Service) SetNotes(ctx context.Context, note *string) (Analysis, Result, error) {
	var updated Analysis
	res, err := s.run(ctx, "set_notes", func(tx Transaction) error {
		id, ok := tx.Snapshot().CurrentAnalysisID()
		if !ok {
			return ErrNoCurrentAnalysis
		}
		var err error
		updated, err = tx.UpdateAnalysis(id, func(a *Analysis) error {
			a.Notes = note
			return nil
		})
		return err
	})
	return updated, res, err
}

// SetCurrent moves the current pointer; nil clears it.
func (s *Service) SetCurrent(ctx context.Context, id *int) (Result, error) {
	return s.run(ctx, "set_current", func(tx Transaction) error {
		return tx.SetCurrentAnalysis(id)
	})
}

// SetOpt overwrites one configuration field of the current analysis: its
// LocalOpt when local is true, otherwise its tag.
func (s *Service) SetOpt(ctx context.Context, local bool, field string, value any) (Result, error) {
	return s.run(ctx, "set_opt", func(tx Transaction) error {
		current, ok := CurrentAnalysis(tx.Snapshot())
		if !ok {
			return ErrNoCurrentAnalysis
		}
		if local {
			_, err := tx.UpdateLocalOpt(current.ID, func(o *LocalOpt) error {
				if field == OptUseLocalOpt {
					v, ok := value.(bool)
					if !ok {
						return fmt.Errorf("%w: %s expects a boolean", ErrInvalidOpt, field)
					}
					o.UseLocalOpt = v
					return nil
				}
				return applyOpt(&o.Opt, field, value)
			})
			return err
		}
		if current.Tag == nil {
			return ErrNoTag
		}
		_, err := tx.UpdateTag(*current.Tag, func(t *Tag) error {
			return applyOpt(&t.Opt, field, value)
		})
		return err
	})
}

// SetTagOpt overwrites one configuration field of a named tag.
func (s *Service) SetTagOpt(ctx context.Context, name, field string, value any) (Tag, Result, error) {
	var updated Tag
	res, err := s.run(ctx, "set_tag_opt", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateTag(name, func(t *Tag) error {
			return applyOpt(&t.Opt, field, value)
		})
		return err
	})
	return updated, res, err
}

func applyOpt(opt *Opt, field string, value any) error {
	switch field {
	case OptProtein:
		switch v := value.(type) {
		case nil:
			opt.Protein = nil
		case string:
			opt.Protein = &v
		case *string:
			if v == nil {
				opt.Protein = nil
			} else {
				p := *v
				opt.Protein = &p
			}
		default:
			return fmt.Errorf("%w: %s expects a string or null", ErrInvalidOpt, field)
		}
	case OptMuts, OptRowKeys, OptSortingIndexes:
		v, ok := value.([]string)
		if !ok {
			return fmt.Errorf("%w: %s expects a list of strings", ErrInvalidOpt, field)
		}
		v = append([]string{}, v...)
		switch field {
		case OptMuts:
			opt.Muts = v
		case OptRowKeys:
			opt.RowKeys = v
		default:
			opt.SortingIndexes = v
		}
	case OptIsDescSorting:
		v, ok := value.([]bool)
		if !ok {
			return fmt.Errorf("%w: %s expects a list of booleans", ErrInvalidOpt, field)
		}
		opt.IsDescSorting = append([]bool{}, v...)
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidOpt, field)
	}
	return nil
}

// AddTag creates the upper-cased tag if it is new and assigns it to the
// current analysis.
func (s *Service) AddTag(ctx context.Context, name string) (Tag, Result, error) {
	var tag Tag
	res, err := s.run(ctx, "add_tag", func(tx Transaction) error {
		key, err := s.addOrAssignTag(tx, name)
		if err != nil {
			return err
		}
		tag, _ = tx.Snapshot().FindTag(key)
		return nil
	})
	return tag, res, err
}

// RenameTag copies a tag under the upper-cased new name unless that name is
// taken. Members are not re-pointed and the old tag is kept; see UpdateTagName.
func (s *Service) RenameTag(ctx context.Context, oldName, newName string) (Tag, Result, error) {
	var tag Tag
	res, err := s.run(ctx, "rename_tag", func(tx Transaction) error {
		var err error
		tag, err = tx.RenameTag(oldName, domain.NormalizeTagName(newName))
		return err
	})
	return tag, res, err
}

// UpdateTagName renames oldName to the upper-cased newName, re-points every
// member analysis and deletes oldName. When newName already exists the
// members merge into it and its content wins.
func (s *Service) UpdateTagName(ctx context.Context, oldName, newName string) (Result, error) {
	key := domain.NormalizeTagName(newName)
	return s.run(ctx, "update_tag_name", func(tx Transaction) error {
		if key == "" {
			return fmt.Errorf("%w: empty tag name", ErrInvalidOpt)
		}
		if oldName == key {
			return nil
		}
		view := tx.Snapshot()
		if _, exists := view.FindTag(key); !exists {
			if _, err := tx.RenameTag(oldName, key); err != nil {
				return err
			}
		}
		for _, a := range view.ListAnalyses() {
			if a.Tag == nil || *a.Tag != oldName {
				continue
			}
			if _, err := tx.UpdateAnalysis(a.ID, func(a *Analysis) error {
				a.Tag = &key
				return nil
			}); err != nil {
				return err
			}
		}
		if _, ok := view.FindTag(oldName); ok {
			return tx.DeleteTag(oldName)
		}
		return nil
	})
}

// DeleteTag removes a tag from the registry. Member analyses keep the
// now dangling reference.
func (s *Service) DeleteTag(ctx context.Context, name string) (Result, error) {
	return s.run(ctx, "delete_tag", func(tx Transaction) error {
		return tx.DeleteTag(name)
	})
}

// SetTag assigns tagName verbatim to an analysis; nil removes the tag.
func (s *Service) SetTag(ctx context.Context, analysisID int, tagName *string) (Analysis, Result, error) {
	var updated Analysis
	res, err := s.run(ctx, "set_tag", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateAnalysis(analysisID, func(a *Analysis) error {
			a.Tag = tagName
			return nil
		})
		return err
	})
	return updated, res, err
}

func (s *Service) updatePanel(ctx context.Context, op string, fn func(p *WorkingPanel)) (Result, error) {
	return s.run(ctx, op, func(tx Transaction) error {
		return tx.UpdatePanel(func(p *WorkingPanel) error {
			fn(p)
			return nil
		})
	})
}

// SetGranularity stores the panel granularity.
func (s *Service) SetGranularity(ctx context.Context, g *Granularity) (Result, error) {
	return s.updatePanel(ctx, "set_granularity", func(p *WorkingPanel) { p.Granularity = g })
}

// SetLocation stores the panel location.
func (s *Service) SetLocation(ctx context.Context, loc *Location) (Result, error) {
	return s.updatePanel(ctx, "set_location", func(p *WorkingPanel) { p.Location = loc })
}

// SetLocations stores the selectable locations.
func (s *Service) SetLocations(ctx context.Context, locations []string) (Result, error) {
	return s.updatePanel(ctx, "set_locations", func(p *WorkingPanel) { p.Locations = locations })
}

// SetLocationsInfo stores location metadata.
func (s *Service) SetLocationsInfo(ctx context.Context, info map[string]any) (Result, error) {
	return s.updatePanel(ctx, "set_locations_info", func(p *WorkingPanel) { p.LocationsInfo = info })
}

// SetLineage stores the panel lineage; nil selects lineage independent analyses.
func (s *Service) SetLineage(ctx context.Context, lineage *string) (Result, error) {
	return s.updatePanel(ctx, "set_lineage", func(p *WorkingPanel) { p.Lineage = lineage })
}

// SetLineages stores the selectable lineages.
func (s *Service) SetLineages(ctx context.Context, lineages []string) (Result, error) {
	return s.updatePanel(ctx, "set_lineages", func(p *WorkingPanel) { p.Lineages = lineages })
}

// SetDate stores the panel end date.
func (s *Service) SetDate(ctx context.Context, date *string) (Result, error) {
	if date != nil {
		if _, err := weeks.Parse(*date); err != nil {
			return Result{}, err
		}
	}
	return s.updatePanel(ctx, "set_date", func(p *WorkingPanel) { p.Date = date })
}

// ResetState flags the session so the next load starts empty.
func (s *Service) ResetState(ctx context.Context) (Result, error) {
	return s.run(ctx, "reset_state", func(tx Transaction) error {
		tx.MarkReset()
		return nil
	})
}

// Read side ------------------------------------------------------------------

func (s *Service) view(ctx context.Context, fn func(v TransactionView)) {
	_ = s.store.View(ctx, func(v TransactionView) error {
		fn(v)
		return nil
	})
}

// Analysis returns an analysis by id.
func (s *Service) Analysis(ctx context.Context, id int) (a Analysis, ok bool) {
	s.view(ctx, func(v TransactionView) { a, ok = v.FindAnalysis(id) })
	return a, ok
}

// CurrentAnalysis returns the current analysis.
func (s *Service) CurrentAnalysis(ctx context.Context) (a Analysis, ok bool) {
	s.view(ctx, func(v TransactionView) { a, ok = CurrentAnalysis(v) })
	return a, ok
}

// CurrentOpt returns the LocalOpt of the current analysis.
func (s *Service) CurrentOpt(ctx context.Context) (o LocalOpt, ok bool) {
	s.view(ctx, func(v TransactionView) { o, ok = CurrentOpt(v) })
	return o, ok
}

// CurrentTagOpt returns the tag of the current analysis.
func (s *Service) CurrentTagOpt(ctx context.Context) (t Tag, ok bool) {
	s.view(ctx, func(v TransactionView) { t, ok = CurrentTagOpt(v) })
	return t, ok
}

// EffectiveOpt resolves the configuration of an analysis.
func (s *Service) EffectiveOpt(ctx context.Context, id int) (o Opt, ok bool) {
	s.view(ctx, func(v TransactionView) { o, ok = EffectiveOpt(v, id) })
	return o, ok
}

// UseLocalOpt reports the scope flag of an analysis.
func (s *Service) UseLocalOpt(ctx context.Context, id int) (useLocal, ok bool) {
	s.view(ctx, func(v TransactionView) { useLocal, ok = UseLocalOpt(v, id) })
	return useLocal, ok
}

// FilteredRows returns the filtered rows of an analysis.
func (s *Service) FilteredRows(ctx context.Context, id int) (rows []MutationRow, ok bool) {
	s.view(ctx, func(v TransactionView) { rows, ok = FilteredRows(v, id) })
	return rows, ok
}

// SelectedRows returns the manually selected rows of an analysis.
func (s *Service) SelectedRows(ctx context.Context, id int) (rows []MutationRow, ok bool) {
	s.view(ctx, func(v TransactionView) { rows, ok = SelectedRows(v, id) })
	return rows, ok
}

// SortedRows returns the filtered rows in effective sort order.
func (s *Service) SortedRows(ctx context.Context, id int) (rows []MutationRow, ok bool, err error) {
	s.view(ctx, func(v TransactionView) { rows, ok, err = SortedRows(v, id) })
	return rows, ok, err
}

// PlotInfo returns the chart rows of an analysis.
func (s *Service) PlotInfo(ctx context.Context, id int) (p Plot, ok bool, err error) {
	s.view(ctx, func(v TransactionView) { p, ok, err = PlotInfo(v, id) })
	return p, ok, err
}

// AnalysesSummary lists analyses newest first.
func (s *Service) AnalysesSummary(ctx context.Context, filter SummaryFilter) (out []AnalysisSummary) {
	s.view(ctx, func(v TransactionView) { out = AnalysesSummary(v, filter) })
	return out
}

// Tags lists the tag registry ordered by name.
func (s *Service) Tags(ctx context.Context) (out []Tag) {
	s.view(ctx, func(v TransactionView) { out = v.ListTags() })
	return out
}

// Panel returns the analysis-definition panel state.
func (s *Service) Panel(ctx context.Context) (p WorkingPanel) {
	s.view(ctx, func(v TransactionView) { p = v.Panel() })
	return p
}
