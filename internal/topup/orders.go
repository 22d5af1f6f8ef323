// internal/topup/orders.go
package topup

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/db"
)

// Orders persists top-up orders. State transitions are guarded on the
// current status so concurrent webhooks cannot move an order backwards.
type Orders interface {
	Create(ctx context.Context, record *db.TopUpTransaction) error
	ByOrderID(ctx context.Context, orderID string) (*db.TopUpTransaction, error)
	MarkPaid(ctx context.Context, record *db.TopUpTransaction) (bool, error)
	MarkFailed(ctx context.Context, record *db.TopUpTransaction) error
	MarkCompleted(ctx context.Context, record *db.TopUpTransaction, chainTxHash string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]db.TopUpTransaction, error)
	ListPaid(ctx context.Context, limit int) ([]db.TopUpTransaction, error)
}

// GormOrders backs Orders with the top_up_transactions table.
type GormOrders struct {
	db *gorm.DB
}

func NewGormOrders(gdb *gorm.DB) *GormOrders {
	return &GormOrders{db: gdb}
}

func (o *GormOrders) Create(ctx context.Context, record *db.TopUpTransaction) error {
	return o.db.WithContext(ctx).Create(record).Error
}

func (o *GormOrders) ByOrderID(ctx context.Context, orderID string) (*db.TopUpTransaction, error) {
	var record db.TopUpTransaction
	err := o.db.WithContext(ctx).Where("order_id = ?", orderID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkPaid advances pending to paid and reports whether this caller made the
// transition. Exactly one of several racing webhooks gets true, and only that
// one runs the settlement leg.
func (o *GormOrders) MarkPaid(ctx context.Context, record *db.TopUpTransaction) (bool, error) {
	res := o.db.WithContext(ctx).Model(record).
		Where("status = ?", db.TopUpStatusPending).
		Update("status", db.TopUpStatusPaid)
	if res.Error != nil {
		return false, res.Error
	}
	record.Status = db.TopUpStatusPaid
	return res.RowsAffected > 0, nil
}

// MarkFailed advances pending to failed. Orders past pending keep their
// status: fiat already confirmed, so the crypto leg must still settle.
func (o *GormOrders) MarkFailed(ctx context.Context, record *db.TopUpTransaction) error {
	return o.db.WithContext(ctx).Model(record).
		Where("status = ?", db.TopUpStatusPending).
		Update("status", db.TopUpStatusFailed).Error
}

func (o *GormOrders) MarkCompleted(ctx context.Context, record *db.TopUpTransaction, chainTxHash string) error {
	updates := map[string]any{"status": db.TopUpStatusCompleted}
	if chainTxHash != "" {
		updates["chain_tx_hash"] = chainTxHash
	}
	err := o.db.WithContext(ctx).Model(record).
		Where("status IN ?", []string{db.TopUpStatusPending, db.TopUpStatusPaid}).
		Updates(updates).Error
	if err != nil {
		return err
	}
	record.Status = db.TopUpStatusCompleted
	return nil
}

func (o *GormOrders) ListByUser(ctx context.Context, userID int64, limit int) ([]db.TopUpTransaction, error) {
	var records []db.TopUpTransaction
	err := o.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (o *GormOrders) ListPaid(ctx context.Context, limit int) ([]db.TopUpTransaction, error) {
	var records []db.TopUpTransaction
	err := o.db.WithContext(ctx).
		Where("status = ?", db.TopUpStatusPaid).
		Order("created_at asc").
		Limit(limit).
		Find(&records).Error
	return records, err
}
