package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Kind is the result classification from §9 "Exception-as-control-flow →
// result values": every store call collapses to exactly one of these,
// never an unhandled panic mid-tick.
type Kind int

const (
	// KindOK: the call succeeded and returned rows (or completed a write).
	KindOK Kind = iota
	// KindEmpty: the query executed cleanly but returned no rows — not an
	// error, just nothing to do this tick.
	KindEmpty
	// KindStoreError: the call failed; the caller logs and skips this
	// station/tick rather than aborting the whole tick (§7 StoreUnavailable).
	KindStoreError
)

// ErrStore is wrapped around every underlying driver error so callers can
// classify with errors.Is if they need to distinguish it from domain errors.
var ErrStore = errors.New("store: operation failed")

// classify turns a query error into a Kind, treating pgx.ErrNoRows (the
// store's "no result set" quirk, §9) as KindEmpty rather than an error.
func classify(err error) (Kind, error) {
	if err == nil {
		return KindOK, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return KindEmpty, nil
	}
	return KindStoreError, errors.Join(ErrStore, err)
}

// withRows runs query and reduces its error to a Kind, letting the caller
// supply the row-scanning closure. query must close/consume rows itself
// via pgx.Rows semantics (handled by pgx.CollectRows in call sites).
func withRows[T any](ctx context.Context, run func(context.Context) ([]T, error)) ([]T, Kind, error) {
	rows, err := run(ctx)
	if err != nil {
		kind, werr := classify(err)
		return nil, kind, werr
	}
	if len(rows) == 0 {
		return rows, KindEmpty, nil
	}
	return rows, KindOK, nil
}
