// Package consolidate implements the operator-driven Merge and Split
// operators and the read-only merge suggestion report.
//
// Merge and Split each run inside one store transaction: evidence relinking,
// claim creation and deletion and every history write commit together or
// not at all.
package consolidate

import (
	"strings"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/store"
)

// Operator applies Merge and Split against a store.
type Operator struct {
	st store.Store
}

// NewOperator returns an Operator over st.
func NewOperator(st store.Store) *Operator {
	return &Operator{st: st}
}

func actorPtr(actor string) *string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil
	}
	return &actor
}

func classify(err error) error {
	return errs.Classify("store", err)
}
