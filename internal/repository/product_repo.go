package repository

import (
	"context"
	"errors"
	"fmt"

	"pdf2audio/internal/model"

	"github.com/jackc/pgx/v5"
)

// ProductRepository reads the product catalog. Rows are maintained out of
// band by the catalog sync.
type ProductRepository interface {
	GetByPaddleProductID(ctx context.Context, db DB, paddleProductID string) (*model.Product, error)
}

type productRepo struct{}

// NewProductRepo creates a new ProductRepository.
func NewProductRepo() ProductRepository {
	return &productRepo{}
}

func (r *productRepo) GetByPaddleProductID(ctx context.Context, db DB, paddleProductID string) (*model.Product, error) {
	const q = `
        SELECT id, paddle_product_id, name, subscription_tier, credits_included, price
        FROM products
        WHERE paddle_product_id = $1
    `
	var p model.Product
	err := db.QueryRow(ctx, q, paddleProductID).Scan(
		&p.ID,
		&p.PaddleProductID,
		&p.Name,
		&p.SubscriptionTier,
		&p.CreditsIncluded,
		&p.Price,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch product %s: %w", paddleProductID, err)
	}
	return &p, nil
}
