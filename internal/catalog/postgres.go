package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps products in a Postgres table. Stock mutations are single
// statements, so concurrent writers serialize on the row lock.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "catalog_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

const productColumns = `id, name, price, list_price, category, stock, image_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p  Product
		lp decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.Price, &lp, &p.Category, &p.Stock, &p.ImageRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if lp.Valid {
		p.ListPrice = &lp.Decimal
	}
	return p, nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, price, list_price, category, stock, image_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		p.ID, p.Name, p.Price, nullable(p.ListPrice), p.Category, p.Stock, p.ImageRef)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return alreadyExists(p.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDetails(ctx context.Context, p Product) (*Product, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE products SET name = $2, price = $3, list_price = $4, category = $5, image_ref = $6, updated_at = NOW()
		 WHERE id = $1 RETURNING `+productColumns,
		p.ID, p.Name, p.Price, nullable(p.ListPrice), p.Category, p.ImageRef)
	updated, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return &updated, nil
}

// DecrementFloor locks the row in the CTE and applies the floored subtraction
// in the same statement, returning both the locked and the written value.
func (s *PostgresStore) DecrementFloor(ctx context.Context, id string, qty int) (StockChange, error) {
	return s.stockStatement(ctx, id,
		`WITH prev AS (SELECT stock FROM products WHERE id = $1 FOR UPDATE)
		 UPDATE products SET stock = GREATEST(products.stock - $2, 0), updated_at = NOW()
		 FROM prev WHERE products.id = $1
		 RETURNING prev.stock, products.stock`, qty)
}

func (s *PostgresStore) Increment(ctx context.Context, id string, qty int) (StockChange, error) {
	return s.stockStatement(ctx, id,
		`WITH prev AS (SELECT stock FROM products WHERE id = $1 FOR UPDATE)
		 UPDATE products SET stock = products.stock + $2, updated_at = NOW()
		 FROM prev WHERE products.id = $1
		 RETURNING prev.stock, products.stock`, qty)
}

func (s *PostgresStore) SetStock(ctx context.Context, id string, stock int) (StockChange, error) {
	return s.stockStatement(ctx, id,
		`WITH prev AS (SELECT stock FROM products WHERE id = $1 FOR UPDATE)
		 UPDATE products SET stock = $2, updated_at = NOW()
		 FROM prev WHERE products.id = $1
		 RETURNING prev.stock, products.stock`, stock)
}

func (s *PostgresStore) stockStatement(ctx context.Context, id, query string, arg int) (StockChange, error) {
	var ch StockChange
	err := s.db.QueryRowContext(ctx, query, id, arg).Scan(&ch.Previous, &ch.Current)
	if errors.Is(err, sql.ErrNoRows) {
		return StockChange{}, notFound(id)
	}
	if err != nil {
		return StockChange{}, fmt.Errorf("update stock: %w", err)
	}
	return ch, nil
}
