package core

import (
	"context"
	"fmt"

	"varianthunter/internal/rowsort"
	"varianthunter/pkg/domain"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSortConfigRule())
	engine.Register(NewTagNameCaseRule())
	engine.Register(NewDanglingTagRule())
	return engine
}

// NewSortConfigRule blocks writes of configurations naming sort fields the
// row sorter does not know, and warns when there are more direction flags
// than sort keys. Only entities changed by the transaction are checked.
func NewSortConfigRule() domain.Rule {
	return sortConfigRule{}
}

type sortConfigRule struct{}

func (sortConfigRule) Name() string { return "sort_config" }

func (r sortConfigRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.LocalOpt:
			res.Merge(r.check(after.Opt, domain.EntityLocalOpt, "config"))
		case domain.Tag:
			res.Merge(r.check(after.Opt, domain.EntityTag, after.Name))
		}
	}
	return res, nil
}

func (r sortConfigRule) check(opt domain.Opt, entity domain.EntityType, id string) domain.Result {
	res := domain.Result{}
	if err := rowsort.Validate(opt.SortingIndexes); err != nil {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s: %v", entity, id, err),
			Entity:   entity,
			EntityID: id,
		})
	}
	if len(opt.IsDescSorting) > len(opt.SortingIndexes) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("%s %s has %d direction flags for %d sort keys", entity, id, len(opt.IsDescSorting), len(opt.SortingIndexes)),
			Entity:   entity,
			EntityID: id,
		})
	}
	return res
}

// NewTagNameCaseRule blocks writes of tag registry keys that are not upper
// case. Only tags written by the transaction are checked, so a restored
// lower case key can still be renamed or deleted.
func NewTagNameCaseRule() domain.Rule {
	return tagNameCaseRule{}
}

type tagNameCaseRule struct{}

func (tagNameCaseRule) Name() string { return "tag_name_case" }

func (r tagNameCaseRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		t, ok := change.After.(domain.Tag)
		if !ok || t.Name == domain.NormalizeTagName(t.Name) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("tag %q must be upper case", t.Name),
			Entity:   domain.EntityTag,
			EntityID: t.Name,
		})
	}
	return res, nil
}

// NewDanglingTagRule records analyses whose tag is not in the registry.
// Dangling references are allowed and resolve to the local configuration.
func NewDanglingTagRule() domain.Rule {
	return danglingTagRule{}
}

type danglingTagRule struct{}

func (danglingTagRule) Name() string { return "dangling_tag" }

func (r danglingTagRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, a := range view.ListAnalyses() {
		if a.Tag == nil {
			continue
		}
		if _, ok := view.FindTag(*a.Tag); ok {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityLog,
			Message:  fmt.Sprintf("analysis %d references missing tag %q", a.ID, *a.Tag),
			Entity:   domain.EntityAnalysis,
			EntityID: fmt.Sprint(a.ID),
		})
	}
	return res, nil
}
