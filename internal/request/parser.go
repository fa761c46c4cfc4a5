package request

import (
	"fmt"

	"github.com/opencoordinator/pbs/internal/site"
)

// VisitFunc receives one key together with its reporting origin and its
// 0-based position in the client's flat key list.
type VisitFunc func(reportingOrigin string, key *Key, flatIndex int) error

// ParseCommonV2 validates the shared shape of a v2 consume request and
// walks its keys in client order. Validation order is fixed: version,
// data presence, then per-origin checks, then budget-type uniformity.
// The first failure wins; a non-nil return from visit aborts the walk.
func ParseCommonV2(req *ConsumeBudgetRequest, authorizedDomain string, visit VisitFunc) error {
	if req.Version != "2.0" {
		return fmt.Errorf("version %q: %w", req.Version, ErrInvalidVersion)
	}
	if req.Data == nil {
		return ErrMissingData
	}
	total := 0
	for i := range req.Data {
		total += len(req.Data[i].Keys)
	}
	if total == 0 {
		return ErrNoKeys
	}

	authorizedSite, err := site.Resolve(authorizedDomain)
	if err != nil {
		return fmt.Errorf("authorized domain %q: %w", authorizedDomain, ErrOriginNotPartOfSite)
	}

	seenOrigins := make(map[string]bool, len(req.Data))
	budgetType := ""
	index := 0
	for i := range req.Data {
		data := &req.Data[i]
		if data.ReportingOrigin == "" {
			return ErrEmptyOrigin
		}
		originSite, err := site.Resolve(data.ReportingOrigin)
		if err != nil {
			return err
		}
		if originSite != authorizedSite {
			return fmt.Errorf("origin %q is outside site %q: %w", data.ReportingOrigin, authorizedSite, ErrOriginNotPartOfSite)
		}
		if seenOrigins[data.ReportingOrigin] {
			return fmt.Errorf("origin %q: %w", data.ReportingOrigin, ErrDuplicateOrigin)
		}
		seenOrigins[data.ReportingOrigin] = true

		for j := range data.Keys {
			key := &data.Keys[j]
			bt := key.ResolvedBudgetType()
			if budgetType == "" {
				budgetType = bt
			} else if bt != budgetType {
				return fmt.Errorf("%q then %q: %w", budgetType, bt, ErrMixedBudgetTypes)
			}
			if bt != BudgetTypeBinary {
				return fmt.Errorf("%q: %w", bt, ErrUnknownBudgetType)
			}
			if err := visit(data.ReportingOrigin, key, index); err != nil {
				return err
			}
			index++
		}
	}
	return nil
}
