package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Aayuv360/Moha-sub001/pkg/database"
	apperrors "github.com/Aayuv360/Moha-sub001/pkg/errors"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/domain"
	"github.com/Aayuv360/Moha-sub001/services/cart/internal/repository"
)

const itemColumns = `id, owner_key, product_id, quantity, created_at, updated_at`

const (
	listSQL = `
		SELECT ` + itemColumns + `
		FROM cart_items
		WHERE owner_key = $1
		ORDER BY created_at, id`

	getSQL = `SELECT ` + itemColumns + ` FROM cart_items WHERE id = $1`

	upsertSQL = `
		INSERT INTO cart_items (id, owner_key, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (owner_key, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
		RETURNING ` + itemColumns

	incrementSQL = `
		INSERT INTO cart_items (id, owner_key, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (owner_key, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING ` + itemColumns

	setQuantitySQL = `
		UPDATE cart_items SET quantity = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + itemColumns

	deleteSQL      = `DELETE FROM cart_items WHERE id = $1`
	deleteOwnerSQL = `DELETE FROM cart_items WHERE owner_key = $1`

	lockSourceSQL = `
		SELECT product_id, quantity FROM cart_items
		WHERE id = $1 AND owner_key = $2
		FOR UPDATE`

	creditDestinationSQL = `
		UPDATE cart_items SET quantity = quantity + $3, updated_at = NOW()
		WHERE owner_key = $1 AND product_id = $2`

	rekeySQL = `UPDATE cart_items SET owner_key = $2, updated_at = NOW() WHERE id = $1`
)

// CartStore implements repository.CartStore on PostgreSQL.
type CartStore struct {
	db database.DBTX
}

// NewCartStore creates a store over a pool, transaction or mock.
func NewCartStore(db database.DBTX) *CartStore {
	return &CartStore{db: db}
}

var _ repository.CartStore = (*CartStore)(nil)

func (s *CartStore) List(ctx context.Context, owner domain.OwnerKey) (items []domain.CartItem, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.List", listSQL)
	defer func() { end(err) }()

	rows, err := s.db.Query(ctx, listSQL, string(owner))
	if err != nil {
		return nil, storeError("list cart items", err)
	}
	defer rows.Close()

	items = []domain.CartItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, storeError("scan cart item", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate cart items", err)
	}
	return items, nil
}

func (s *CartStore) Get(ctx context.Context, itemID string) (item *domain.CartItem, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.Get", getSQL)
	defer func() { end(err) }()

	item, err = scanItem(s.db.QueryRow(ctx, getSQL, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	if err != nil {
		return nil, storeError("get cart item", err)
	}
	return item, nil
}

func (s *CartStore) Upsert(ctx context.Context, owner domain.OwnerKey, productID string, quantity int) (item *domain.CartItem, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.Upsert", upsertSQL)
	defer func() { end(err) }()

	item, err = scanItem(s.db.QueryRow(ctx, upsertSQL, uuid.NewString(), string(owner), productID, quantity))
	if err != nil {
		return nil, storeError("upsert cart item", err)
	}
	return item, nil
}

func (s *CartStore) Increment(ctx context.Context, owner domain.OwnerKey, productID string, delta int) (item *domain.CartItem, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.Increment", incrementSQL)
	defer func() { end(err) }()

	item, err = scanItem(s.db.QueryRow(ctx, incrementSQL, uuid.NewString(), string(owner), productID, delta))
	if err != nil {
		return nil, storeError("increment cart item", err)
	}
	return item, nil
}

func (s *CartStore) SetQuantity(ctx context.Context, itemID string, quantity int) (item *domain.CartItem, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.SetQuantity", setQuantitySQL)
	defer func() { end(err) }()

	item, err = scanItem(s.db.QueryRow(ctx, setQuantitySQL, itemID, quantity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("cart item", itemID)
	}
	if err != nil {
		return nil, storeError("set cart item quantity", err)
	}
	return item, nil
}

func (s *CartStore) Delete(ctx context.Context, itemID string) (deleted bool, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.Delete", deleteSQL)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, deleteSQL, itemID)
	if err != nil {
		return false, storeError("delete cart item", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *CartStore) DeleteOwner(ctx context.Context, owner domain.OwnerKey) (n int, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.DeleteOwner", deleteOwnerSQL)
	defer func() { end(err) }()

	tag, err := s.db.Exec(ctx, deleteOwnerSQL, string(owner))
	if err != nil {
		return 0, storeError("delete owner items", err)
	}
	return int(tag.RowsAffected()), nil
}

// Transfer locks the source row, then either credits the destination's
// existing item and deletes the source, or re-keys the source in place.
func (s *CartStore) Transfer(ctx context.Context, itemID string, from, to domain.OwnerKey) (outcome repository.TransferOutcome, err error) {
	ctx, end := database.TraceQuery(ctx, "cart.Transfer", lockSourceSQL)
	defer func() { end(err) }()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return repository.TransferSkipped, storeError("begin transfer", err)
	}

	outcome, err = transferTx(ctx, tx, itemID, from, to)
	if err != nil {
		_ = tx.Rollback(ctx)
		return repository.TransferSkipped, transferError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return repository.TransferSkipped, storeError("commit transfer", err)
	}
	return outcome, nil
}

func transferTx(ctx context.Context, tx pgx.Tx, itemID string, from, to domain.OwnerKey) (repository.TransferOutcome, error) {
	var productID string
	var quantity int
	err := tx.QueryRow(ctx, lockSourceSQL, itemID, string(from)).Scan(&productID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.TransferSkipped, nil
	}
	if err != nil {
		return repository.TransferSkipped, fmt.Errorf("lock source item: %w", err)
	}

	tag, err := tx.Exec(ctx, creditDestinationSQL, string(to), productID, quantity)
	if err != nil {
		return repository.TransferSkipped, fmt.Errorf("credit destination item: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, deleteSQL, itemID); err != nil {
			return repository.TransferSkipped, fmt.Errorf("delete source item: %w", err)
		}
		return repository.TransferCombined, nil
	}

	if _, err := tx.Exec(ctx, rekeySQL, itemID, string(to)); err != nil {
		return repository.TransferSkipped, fmt.Errorf("rekey source item: %w", err)
	}
	return repository.TransferMoved, nil
}

// transferError treats a unique violation as retryable: another writer
// created the destination item between the credit and the re-key, and a
// retry will take the credit path.
func transferError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.Transient("cart store", err)
	}
	return storeError("transfer cart item", err)
}

// numericOutOfRange is the SQLSTATE for a quantity sum beyond BIGINT.
const numericOutOfRange = "22003"

func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericOutOfRange {
		return apperrors.Validation("cart item quantity is out of range")
	}
	if database.IsTransient(err) {
		return apperrors.Transient("cart store", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanItem(row pgx.Row) (*domain.CartItem, error) {
	var item domain.CartItem
	var owner string
	if err := row.Scan(&item.ID, &owner, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.OwnerKey = domain.OwnerKey(owner)
	return &item, nil
}
