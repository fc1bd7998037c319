package domain

import "context"

// Transaction exposes the session operations that a store must support
// within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	AddAnalysis(Analysis) (Analysis, error)
	UpdateAnalysis(id int, mutator func(*Analysis) error) (Analysis, error)
	RemoveAnalysis(id int) error
	SetCurrentAnalysis(id *int) error
	UpdateLocalOpt(id int, mutator func(*LocalOpt) error) (LocalOpt, error)
	CreateTag(Tag) (Tag, error)
	UpdateTag(name string, mutator func(*Tag) error) (Tag, error)
	RenameTag(oldName, newName string) (Tag, error)
	DeleteTag(name string) error
	UpdatePanel(mutator func(*WorkingPanel) error) error
	SetDatasetInfo(info DatasetInfo)
	MarkReset()
}

// TransactionView provides read-only access to a state snapshot.
type TransactionView interface {
	RuleView
	Panel() WorkingPanel
	DatasetInfo() DatasetInfo
}

// SessionStore is the abstraction the session controller depends on.
type SessionStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
