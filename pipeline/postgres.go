package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const createProductsTable = `
CREATE TABLE IF NOT EXISTS catalog_products (
	id                  BIGSERIAL PRIMARY KEY,
	run_id              TEXT NOT NULL,
	product_id          TEXT,
	title               TEXT,
	brand               TEXT,
	price               DOUBLE PRECISION,
	price_text          TEXT,
	original_price      DOUBLE PRECISION,
	original_price_text TEXT,
	discount_pct        INTEGER,
	discount_text       TEXT,
	rating              DOUBLE PRECISION,
	review_count        INTEGER NOT NULL DEFAULT 0,
	image_url           TEXT,
	product_url         TEXT,
	in_stock            BOOLEAN NOT NULL,
	seller_name         TEXT,
	location            TEXT,
	category_name       TEXT,
	source              TEXT NOT NULL,
	scraped_at          TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS catalog_products_run_product
	ON catalog_products (run_id, product_id) WHERE product_id IS NOT NULL;`

const insertProduct = `
INSERT INTO catalog_products (
	run_id, product_id, title, brand, price, price_text, original_price, original_price_text,
	discount_pct, discount_text, rating, review_count, image_url, product_url, in_stock,
	seller_name, location, category_name, source, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT DO NOTHING`

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresWriter inserts products into catalog_products, tagged with the run ID.
type PostgresWriter struct {
	db      batchSender
	runID   string
	closeFn func()

	mu      sync.Mutex
	written int
}

// NewPostgresWriter connects to dsn and ensures the products table exists.
func NewPostgresWriter(ctx context.Context, dsn, runID string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createProductsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create products table: %w", err)
	}
	w := newPostgresWriter(pool, runID)
	w.closeFn = pool.Close
	return w, nil
}

func newPostgresWriter(db batchSender, runID string) *PostgresWriter {
	return &PostgresWriter{db: db, runID: runID}
}

// Write sends one batch of inserts; duplicates within a run are ignored by the unique index.
func (w *PostgresWriter) Write(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(insertProduct,
			w.runID, p.ProductID, p.Title, p.Brand, p.Price, p.PriceText, p.OriginalPrice, p.OriginalPriceText,
			p.DiscountPct, p.DiscountText, p.Rating, p.ReviewCount, p.ImageURL, p.ProductURL, p.InStock,
			p.SellerName, p.Location, p.CategoryName, string(p.Source), p.ScrapedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	for i := range products {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert product %d of %d: %w", i+1, len(products), err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	w.mu.Lock()
	w.written += len(products)
	w.mu.Unlock()
	return nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

// Validate reports an error when no rows were sent.
func (w *PostgresWriter) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written == 0 {
		return fmt.Errorf("postgres: no products written for run %s", w.runID)
	}
	return nil
}
