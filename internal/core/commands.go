package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownOperation is returned by Dispatch for unrecognized operation names.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidPayload is returned by Dispatch when a payload fails to decode or validate.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Operation names recognized by Dispatch.
const (
	OpAddAnalysis      = "addAnalysis"
	OpAddGroupAnalysis = "addGroupAnalysis"
	OpRemoveAnalysis   = "removeAnalysis"
	OpClearHistory     = "clearHistory"
	OpSetCurrent       = "setCurrent"
	OpSetStarred       = "setStarredAnalysis"
	OpSetNotes         = "setNotes"
	OpSetOpt           = "setOpt"
	OpAddTag           = "addTag"
	OpRenameTag        = "renameTag"
	OpUpdateTagName    = "updateTagName"
	OpDeleteTag        = "deleteTag"
	OpSetTag           = "setTag"
	OpSetTagOpt        = "setTagOpt"
	OpSetGranularity   = "setGranularity"
	OpSetLocation      = "setLocation"
	OpSetLocations     = "setLocations"
	OpSetLocationsInfo = "setLocationsInfo"
	OpSetLineage       = "setLineage"
	OpSetLineages      = "setLineages"
	OpSetDate          = "setDate"
	OpResetState       = "resetState"
)

var payloadValidate = validator.New(validator.WithRequiredStructEnabled())

// SetOptPayload overwrites one field of the current analysis's LocalOpt or tag.
type SetOptPayload struct {
	Local bool            `json:"local"`
	Opt   string          `json:"opt" validate:"required"`
	Value json.RawMessage `json:"value"`
}

// SetTagOptPayload overwrites one field of a named tag.
type SetTagOptPayload struct {
	Name  string          `json:"name" validate:"required"`
	Opt   string          `json:"opt" validate:"required"`
	Value json.RawMessage `json:"value"`
}

// RenameTagPayload carries both names of a tag rename.
type RenameTagPayload struct {
	OldName string `json:"oldName" validate:"required"`
	NewName string `json:"newName" validate:"required"`
}

// SetTagPayload assigns or clears the tag of an analysis.
type SetTagPayload struct {
	AnalysisID *int    `json:"analysisId" validate:"required,gte=0"`
	TagName    *string `json:"tagName"`
}

// SetStarredPayload flips the starred flag of an analysis.
type SetStarredPayload struct {
	ID      *int `json:"id" validate:"required,gte=0"`
	Starred bool `json:"starred"`
}

// Operations lists every operation name Dispatch accepts, sorted.
func Operations() []string {
	ops := make([]string, 0, len(dispatchTable))
	for name := range dispatchTable {
		ops = append(ops, name)
	}
	sort.Strings(ops)
	return ops
}

type handler func(ctx context.Context, s *Service, payload json.RawMessage) (any, Result, error)

var dispatchTable map[string]handler

func init() {
	dispatchTable = map[string]handler{
		OpAddAnalysis: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in AnalysisInput
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.AddAnalysis(ctx, in))
		},
		OpAddGroupAnalysis: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in AnalysisInput
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.AddGroupAnalysis(ctx, in))
		},
		OpRemoveAnalysis: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var id int
			if err := decodeValue(p, &id); err != nil {
				return nil, Result{}, err
			}
			res, err := s.RemoveAnalysis(ctx, id)
			return nil, res, err
		},
		OpClearHistory: func(ctx context.Context, s *Service, _ json.RawMessage) (any, Result, error) {
			res, err := s.ClearHistory(ctx)
			return nil, res, err
		},
		OpSetCurrent: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var id *int
			if err := decodeNullable(p, &id); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetCurrent(ctx, id)
			return nil, res, err
		},
		OpSetStarred: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in SetStarredPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.SetStarred(ctx, *in.ID, in.Starred))
		},
		OpSetNotes: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var note *string
			if err := decodeNullable(p, &note); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.SetNotes(ctx, note))
		},
		OpSetOpt: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in SetOptPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			value, err := decodeOptValue(in.Opt, in.Value, in.Local)
			if err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetOpt(ctx, in.Local, in.Opt, value)
			return nil, res, err
		},
		OpAddTag: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var name string
			if err := decodeValue(p, &name); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.AddTag(ctx, name))
		},
		OpRenameTag: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in RenameTagPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.RenameTag(ctx, in.OldName, in.NewName))
		},
		OpUpdateTagName: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in RenameTagPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			res, err := s.UpdateTagName(ctx, in.OldName, in.NewName)
			return nil, res, err
		},
		OpDeleteTag: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var name string
			if err := decodeValue(p, &name); err != nil {
				return nil, Result{}, err
			}
			res, err := s.DeleteTag(ctx, name)
			return nil, res, err
		},
		OpSetTag: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in SetTagPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			return wrap(s.SetTag(ctx, *in.AnalysisID, in.TagName))
		},
		OpSetTagOpt: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var in SetTagOptPayload
			if err := decodeStruct(p, &in); err != nil {
				return nil, Result{}, err
			}
			value, err := decodeOptValue(in.Opt, in.Value, false)
			if err != nil {
				return nil, Result{}, err
			}
			return wrap(s.SetTagOpt(ctx, in.Name, in.Opt, value))
		},
		OpSetGranularity: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var g *Granularity
			if err := decodeNullable(p, &g); err != nil {
				return nil, Result{}, err
			}
			if g != nil && !g.Valid() {
				return nil, Result{}, fmt.Errorf("%w: unknown granularity %q", ErrInvalidPayload, *g)
			}
			res, err := s.SetGranularity(ctx, g)
			return nil, res, err
		},
		OpSetLocation: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var loc *Location
			if err := decodeNullable(p, &loc); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetLocation(ctx, loc)
			return nil, res, err
		},
		OpSetLocations: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var locations []string
			if err := decodeNullable(p, &locations); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetLocations(ctx, locations)
			return nil, res, err
		},
		OpSetLocationsInfo: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var info map[string]any
			if err := decodeNullable(p, &info); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetLocationsInfo(ctx, info)
			return nil, res, err
		},
		OpSetLineage: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var lineage *string
			if err := decodeNullable(p, &lineage); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetLineage(ctx, lineage)
			return nil, res, err
		},
		OpSetLineages: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var lineages []string
			if err := decodeNullable(p, &lineages); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetLineages(ctx, lineages)
			return nil, res, err
		},
		OpSetDate: func(ctx context.Context, s *Service, p json.RawMessage) (any, Result, error) {
			var date *string
			if err := decodeNullable(p, &date); err != nil {
				return nil, Result{}, err
			}
			res, err := s.SetDate(ctx, date)
			return nil, res, err
		},
		OpResetState: func(ctx context.Context, s *Service, _ json.RawMessage) (any, Result, error) {
			res, err := s.ResetState(ctx)
			return nil, res, err
		},
	}
}

// Dispatch decodes and validates payload for the named operation and runs
// it. The returned value is the created or updated entity where the
// operation produces one, else nil.
func (s *Service) Dispatch(ctx context.Context, name string, payload json.RawMessage) (any, Result, error) {
	h, ok := dispatchTable[name]
	if !ok {
		return nil, Result{}, fmt.Errorf("%w %q", ErrUnknownOperation, name)
	}
	return h(ctx, s, payload)
}

func wrap[T any](v T, res Result, err error) (any, Result, error) {
	if err != nil {
		return nil, res, err
	}
	return v, res, nil
}

func isNull(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) == 0 || bytes.Equal(p, []byte("null"))
}

func decodeStruct(p json.RawMessage, dst any) error {
	if isNull(p) {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(p, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadValidate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func decodeValue(p json.RawMessage, dst any) error {
	if isNull(p) {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(p, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func decodeNullable(p json.RawMessage, dst any) error {
	if isNull(p) {
		return nil
	}
	if err := json.Unmarshal(p, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// decodeOptValue decodes raw into the Go type SetOpt expects for field.
func decodeOptValue(field string, raw json.RawMessage, local bool) (any, error) {
	switch field {
	case OptUseLocalOpt:
		if !local {
			return nil, fmt.Errorf("%w: %s is only valid for local options", ErrInvalidOpt, field)
		}
		var v bool
		if err := decodeValue(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case OptProtein:
		var v *string
		if err := decodeNullable(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case OptMuts, OptRowKeys, OptSortingIndexes:
		v := []string{}
		if err := decodeNullable(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case OptIsDescSorting:
		v := []bool{}
		if err := decodeNullable(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidOpt, field)
	}
}
