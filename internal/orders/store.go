package orders

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrStatusMismatch is returned by UpdateStatus when the stored status is not
// the expected one.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// ErrReservationPending is returned by LeaveProcessing while the order's
// stock reservation has not been recorded yet.
var ErrReservationPending = errors.New("reservation not recorded")

// IdempotencyCompleter builds the write that completes an idempotency record
// inside the order creation transaction.
type IdempotencyCompleter interface {
	CompletionWrite(key, orderID string, responseStatus int) types.TransactWriteItem
}

// Store persists orders. Implementations: DynamoStore, MemoryStore.
type Store interface {
	// Create persists a new order. With a non-empty idempotencyKey the
	// idempotency record is completed atomically with the insert.
	Create(ctx context.Context, o Order, idempotencyKey string) error
	Get(ctx context.Context, orderID string) (*Order, error)
	FindBySession(ctx context.Context, sessionRef string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, orderID string, expected, next Status) error
	// LeaveProcessing moves a PROCESSING order whose reservation is recorded
	// to next and returns that reservation.
	LeaveProcessing(ctx context.Context, orderID string, next Status) (map[string]int, error)
	// SetReserved records the units taken from stock. It only succeeds while
	// the order is PROCESSING and returns ErrStatusMismatch otherwise.
	SetReserved(ctx context.Context, orderID string, reserved map[string]int) error
	// MarkPaid reports changed=false when the order was already paid.
	MarkPaid(ctx context.Context, orderID string) (o *Order, changed bool, err error)
	// Replace overwrites the order if it was not modified since prevUpdatedAt.
	Replace(ctx context.Context, o Order, prevUpdatedAt time.Time) error
	Delete(ctx context.Context, orderID string) error
}
