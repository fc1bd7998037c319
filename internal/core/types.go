// Package core implements the varianthunter session controller: scope
// resolution over the analysis repository, the transactional command
// surface, rules, and background persistence.
package core

import "varianthunter/pkg/domain"

type (
	Analysis        = domain.Analysis
	LocalOpt        = domain.LocalOpt
	Opt             = domain.Opt
	Tag             = domain.Tag
	MutationRow     = domain.MutationRow
	Query           = domain.Query
	Location        = domain.Location
	Granularity     = domain.Granularity
	WorkingPanel    = domain.WorkingPanel
	DatasetInfo     = domain.DatasetInfo
	Change          = domain.Change
	Result          = domain.Result
	Violation       = domain.Violation
	Rule            = domain.Rule
	RulesEngine     = domain.RulesEngine
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
)
