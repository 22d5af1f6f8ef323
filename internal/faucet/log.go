// internal/faucet/log.go
package faucet

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zkwallet/zkwallet/internal/db"
)

// GormRequestLog backs the faucet history with the faucet_requests table.
type GormRequestLog struct {
	db *gorm.DB
}

func NewGormRequestLog(gdb *gorm.DB) *GormRequestLog {
	return &GormRequestLog{db: gdb}
}

func (l *GormRequestLog) LastRequest(ctx context.Context, walletID int64) (*time.Time, error) {
	var req db.FaucetRequest
	err := l.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req.CreatedAt, nil
}

// Record re-validates the rolling window with the wallet row locked, so two
// simultaneous requests serialize and the loser sees the winner's insert.
func (l *GormRequestLog) Record(ctx context.Context, req *db.FaucetRequest) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w db.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, req.WalletID).Error; err != nil {
			return err
		}

		var count int64
		err := tx.Model(&db.FaucetRequest{}).
			Where("wallet_id = ? AND created_at > ?", req.WalletID, req.CreatedAt.Add(-Window)).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return &CooldownError{RetryAfter: Window}
		}

		return tx.Create(req).Error
	})
}

// Release deletes a claimed request whose broadcast never went out.
func (l *GormRequestLog) Release(ctx context.Context, req *db.FaucetRequest) error {
	return l.db.WithContext(ctx).Delete(&db.FaucetRequest{}, req.ID).Error
}

// AttachResult stores the broadcast hash on an already claimed request.
func (l *GormRequestLog) AttachResult(ctx context.Context, req *db.FaucetRequest) error {
	return l.db.WithContext(ctx).Model(&db.FaucetRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"chain_tx_hash": req.ChainTxHash,
			"simulated":     req.Simulated,
		}).Error
}
