package db

import (
	"context"
	"testing"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil transaction, got %v", tx)
	}
}

func TestConn_FallsBackToPool(t *testing.T) {
	// A nil pool is still returned as the Querier when no transaction is bound.
	q := Conn(context.Background(), nil)
	if q == nil {
		t.Fatal("expected a non-nil Querier interface value")
	}
}
