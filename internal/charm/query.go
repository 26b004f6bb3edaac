// query.go - Claim query semantics and the ledger-backed indexer.
//
// The core defines what a filter means; the Indexer capability owns the
// data. LedgerIndexer is the default in-process implementation. Reads
// are side-effect free, so the query service retries transparently on
// external timeouts (mutations never are).

package charm

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ClaimFilter selects claims by issuer, category, holder, state and
// mint-time range, with limit/offset pagination.
type ClaimFilter struct {
	Issuer   Address    `json:"issuer,omitempty"`
	Category string     `json:"category,omitempty"`
	Holder   Address    `json:"holder,omitempty"`
	State    ClaimState `json:"state,omitempty"`
	From     time.Time  `json:"from,omitempty"`
	To       time.Time  `json:"to,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
}

func (f ClaimFilter) matches(c *ProductClaim) bool {
	if f.Issuer != "" && c.Issuer != f.Issuer {
		return false
	}
	if f.Category != "" && c.Product.Category != f.Category {
		return false
	}
	if f.Holder != "" && c.CurrentHolder != f.Holder {
		return false
	}
	if f.State != "" && c.State != f.State {
		return false
	}
	if !f.From.IsZero() && c.MintTimestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.MintTimestamp.After(f.To) {
		return false
	}
	return true
}

// LedgerIndexer serves claim queries straight from the ledger snapshot.
type LedgerIndexer struct {
	ledger *Ledger
}

// NewLedgerIndexer builds the in-process indexer.
func NewLedgerIndexer(ledger *Ledger) *LedgerIndexer {
	return &LedgerIndexer{ledger: ledger}
}

// QueryClaims implements Indexer. Results are ordered by mint time then
// claim id so pagination is stable.
func (x *LedgerIndexer) QueryClaims(_ context.Context, filter ClaimFilter) ([]*ProductClaim, error) {
	var out []*ProductClaim
	for _, c := range x.ledger.Claims() {
		if filter.matches(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MintTimestamp.Equal(out[j].MintTimestamp) {
			return out[i].MintTimestamp.Before(out[j].MintTimestamp)
		}
		return out[i].ClaimID < out[j].ClaimID
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func paginate(claims []*ProductClaim, limit, offset int) []*ProductClaim {
	if offset < 0 || offset >= len(claims) {
		return nil
	}
	claims = claims[offset:]
	if limit > 0 && limit < len(claims) {
		claims = claims[:limit]
	}
	return claims
}

// QueryService wraps an Indexer with a bounded timeout and a single
// transparent retry for read-only calls.
type QueryService struct {
	indexer Indexer
	timeout time.Duration
}

// NewQueryService builds a query service over any Indexer.
func NewQueryService(indexer Indexer, timeout time.Duration) *QueryService {
	return &QueryService{indexer: indexer, timeout: timeout}
}

// QueryClaims runs the filter against the indexer. A timed-out attempt
// is retried once; a second failure surfaces as an external error.
func (s *QueryService) QueryClaims(ctx context.Context, filter ClaimFilter) ([]*ProductClaim, error) {
	const op = "query"
	if filter.Limit < 0 {
		return nil, validationErr(op, "limit must not be negative, got %d", filter.Limit)
	}
	if filter.Offset < 0 {
		return nil, validationErr(op, "offset must not be negative, got %d", filter.Offset)
	}
	var claims []*ProductClaim
	attempt := func(ctx context.Context) error {
		cs, err := s.indexer.QueryClaims(ctx, filter)
		if err != nil {
			return err
		}
		claims = cs
		return nil
	}

	err := callBounded(ctx, s.timeout, attempt)
	if errors.Is(err, ErrExternalTimeout) {
		err = callBounded(ctx, s.timeout, attempt)
	}
	if err != nil {
		return nil, externalErr("query", err)
	}
	return claims, nil
}
