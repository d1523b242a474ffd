package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryer is the subset of sqlx operations repositories need. It is satisfied
// by both *sqlx.DB and *sqlx.Tx, so every repository method can run either
// standalone or inside an enclosing unit of work.
type Queryer interface {
	sqlx.Ext
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
}

// TxRunner executes a function inside a single database transaction. Row
// locks taken with FOR UPDATE inside fn are held until the transaction ends,
// which is what makes the booking orchestrator's atomic scope work.
type TxRunner struct {
	db *sqlx.DB
}

// NewTxRunner creates a new TxRunner
func NewTxRunner(db *sqlx.DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic. Nothing fn writes is visible
// outside the transaction until commit.
func (r *TxRunner) WithinTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
