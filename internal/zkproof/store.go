// internal/zkproof/store.go
package zkproof

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/db"
)

// NullifierStore records consumed nullifiers. Consume is atomic
// check-and-set: of two concurrent calls with the same nullifier exactly one
// returns true.
type NullifierStore interface {
	Consume(ctx context.Context, nullifier, proofType string, userID *int64) (bool, error)
}

// GormNullifierStore backs the nullifier index with the zk_proof_records
// table. Atomicity comes from the unique index on nullifier: the insert
// either lands first or collides.
type GormNullifierStore struct {
	db *gorm.DB
}

func NewGormNullifierStore(gdb *gorm.DB) *GormNullifierStore {
	return &GormNullifierStore{db: gdb}
}

func (s *GormNullifierStore) Consume(ctx context.Context, nullifier, proofType string, userID *int64) (bool, error) {
	rec := &db.ZKProofRecord{
		UserID:    userID,
		ProofType: proofType,
		Nullifier: &nullifier,
		Verified:  true,
	}
	err := s.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
