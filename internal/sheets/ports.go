package sheets

import (
	"context"

	"ricorrenze/internal/core"
)

// Ports for outbound ledger mirrors.
type (
	// LedgerMirror appends a materialized instance to an external ledger.
	LedgerMirror interface {
		AppendInstance(ctx context.Context, instance core.TransactionInstance) (rowRef string, err error)
	}
)
