package repository

import (
	"context"
	"fmt"

	"pdf2audio/internal/model"
)

// TransactionRepository records one-time payments. The unique Paddle
// transaction id makes redelivered payment webhooks no-ops.
type TransactionRepository interface {
	// InsertIfAbsent writes the ledger row unless one with the same Paddle
	// transaction id already exists; it reports whether a row was inserted.
	InsertIfAbsent(ctx context.Context, db DB, txn *model.Transaction) (bool, error)
}

type transactionRepo struct{}

// NewTransactionRepo creates a new TransactionRepository.
func NewTransactionRepo() TransactionRepository {
	return &transactionRepo{}
}

func (r *transactionRepo) InsertIfAbsent(ctx context.Context, db DB, txn *model.Transaction) (bool, error) {
	const q = `
        INSERT INTO transactions (id, user_id, product_id, paddle_transaction_id, amount, credits_added)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (paddle_transaction_id) DO NOTHING
    `
	tag, err := db.Exec(ctx, q,
		txn.ID,
		txn.UserID,
		txn.ProductID,
		txn.PaddleTransactionID,
		txn.Amount,
		txn.CreditsAdded,
	)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", txn.PaddleTransactionID, err)
	}
	return tag.RowsAffected() == 1, nil
}
