// internal/wallet/store.go
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/pkg/keys"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

var (
	ErrWalletNotFound      = errors.New("wallet: not found")
	ErrDuplicateWallet     = errors.New("wallet: user already has an active wallet")
	ErrInvalidAddress      = errors.New("wallet: invalid address")
	ErrKeyMismatch         = errors.New("wallet: private key does not match address")
	ErrInvalidAmount       = errors.New("wallet: amount must be positive")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
)

// BalanceSource provides on-chain balances. Satisfied by *polygon.Client.
type BalanceSource interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Store owns all wallet persistence. Balances only move inside database
// transactions with the affected rows locked.
type Store struct {
	db            *gorm.DB
	chain         BalanceSource
	encryptionKey string
}

func NewStore(gdb *gorm.DB, chain BalanceSource, encryptionKey string) *Store {
	return &Store{db: gdb, chain: chain, encryptionKey: encryptionKey}
}

// internalAddressPrefix marks custodial addresses that exist only inside
// this service's ledger, as opposed to on-chain 0x addresses.
const internalAddressPrefix = "ZKWALLET"

func newInternalAddress() (string, error) {
	random, err := keys.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return internalAddressPrefix + strings.ToUpper(hex.EncodeToString(random)), nil
}

// CreateWallet generates a fresh keypair for the user and persists the
// wallet with the private key encrypted. One active wallet per user.
func (s *Store) CreateWallet(ctx context.Context, userID int64) (*db.Wallet, error) {
	var wallet *db.Wallet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.Wallet
		err := tx.Where("user_id = ? AND active", userID).First(&existing).Error
		if err == nil {
			return ErrDuplicateWallet
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking existing wallet: %w", err)
		}

		kp, err := keys.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generating keypair: %w", err)
		}

		encrypted, err := EncryptPrivateKey(kp.PrivateKey, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("encrypting private key: %w", err)
		}

		internal, err := newInternalAddress()
		if err != nil {
			return fmt.Errorf("generating internal address: %w", err)
		}

		chainAddr := kp.Address
		wallet = &db.Wallet{
			UserID:          userID,
			InternalAddress: internal,
			ChainAddress:    &chainAddr,
			PublicKey:       kp.PublicKey,
			PrivateKey:      encrypted,
			Balance:         decimal.Zero,
			Currency:        "MATIC",
			Active:          true,
		}
		if err := tx.Create(wallet).Error; err != nil {
			// The partial unique index on (user_id) WHERE active backstops
			// the check above under concurrent registration.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateWallet
			}
			return fmt.Errorf("saving wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("wallet created",
		zap.Int64("user_id", userID),
		zap.String("internal_address", wallet.InternalAddress))
	return wallet, nil
}

// ImportWallet stores an externally generated key after checking that it
// actually controls the claimed chain address.
func (s *Store) ImportWallet(ctx context.Context, userID int64, privateKey, chainAddress string) (*db.Wallet, error) {
	if !polygon.IsValidAddress(chainAddress) {
		return nil, ErrInvalidAddress
	}
	priv, err := keys.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: verifying key: %w", err)
	}
	pub := priv.PubKey().SerializeUncompressed()
	derived, err := keys.AddressFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("wallet: verifying key: %w", err)
	}
	if !strings.EqualFold(derived, chainAddress) {
		return nil, ErrKeyMismatch
	}

	encrypted, err := EncryptPrivateKey(privateKey, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: encrypting private key: %w", err)
	}
	internal, err := newInternalAddress()
	if err != nil {
		return nil, fmt.Errorf("wallet: generating internal address: %w", err)
	}

	checksummed := keys.ToChecksumAddress(chainAddress)
	wallet := &db.Wallet{
		UserID:          userID,
		InternalAddress: internal,
		ChainAddress:    &checksummed,
		PublicKey:       hex.EncodeToString(pub),
		PrivateKey:      encrypted,
		Balance:         decimal.Zero,
		Currency:        "MATIC",
		Active:          true,
	}
	if err := s.db.WithContext(ctx).Create(wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateWallet
		}
		return nil, fmt.Errorf("wallet: saving imported wallet: %w", err)
	}
	return wallet, nil
}

func (s *Store) WalletByID(ctx context.Context, id int64) (*db.Wallet, error) {
	var wallet db.Wallet
	if err := s.db.WithContext(ctx).First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (s *Store) WalletByUserID(ctx context.Context, userID int64) (*db.Wallet, error) {
	var wallet db.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ? AND active", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// WalletByAddress resolves either an internal ZKWALLET address or an
// on-chain 0x address.
func (s *Store) WalletByAddress(ctx context.Context, address string) (*db.Wallet, error) {
	q := s.db.WithContext(ctx)
	if strings.HasPrefix(address, internalAddressPrefix) {
		q = q.Where("internal_address = ?", address)
	} else if polygon.IsValidAddress(address) {
		q = q.Where("lower(chain_address) = lower(?)", address)
	} else {
		return nil, ErrInvalidAddress
	}

	var wallet db.Wallet
	if err := q.First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// DecryptKey returns the wallet's plaintext private key. Callers must not
// persist or log the result.
func (s *Store) DecryptKey(w *db.Wallet) (string, error) {
	return DecryptPrivateKey(w.PrivateKey, s.encryptionKey)
}

// SyncBalance refreshes the cached balance from the chain if it is stale.
// The update is guarded on last_mutated_at so a transfer that lands between
// the RPC read and this write is never overwritten with the older figure.
func (s *Store) SyncBalance(ctx context.Context, w *db.Wallet) error {
	if !w.NeedsSync(time.Now()) {
		return nil
	}
	if w.ChainAddress == nil {
		return nil
	}

	balance, err := s.chain.GetBalance(ctx, *w.ChainAddress)
	if err != nil {
		// Stale local balance beats an outage-shaped zero.
		logging.Warn("balance sync failed, keeping cached value",
			zap.Int64("wallet_id", w.ID),
			zap.Error(err))
		return nil
	}

	now := time.Now()
	guard := s.db.WithContext(ctx).Model(&db.Wallet{}).
		Where("id = ?", w.ID)
	if w.LastMutatedAt == nil {
		guard = guard.Where("last_mutated_at IS NULL")
	} else {
		guard = guard.Where("last_mutated_at = ?", *w.LastMutatedAt)
	}

	res := guard.Updates(map[string]any{
		"balance":      balance,
		"last_sync_at": now,
	})
	if res.Error != nil {
		return fmt.Errorf("wallet: updating synced balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logging.Debug("balance sync skipped, wallet mutated concurrently",
			zap.Int64("wallet_id", w.ID))
		return nil
	}

	w.Balance = balance
	w.LastSyncAt = &now
	return nil
}

// TransferRecord describes one internal transfer to apply atomically.
type TransferRecord struct {
	SenderWalletID   int64
	ReceiverWalletID int64
	Amount           decimal.Decimal
	LocalHash        string
	Proof            string
	PublicInputs     string
}

// ApplyTransfer debits the sender, credits the receiver and records a
// pending transaction, all in one database transaction. Wallet rows are
// locked in ascending id order so concurrent transfers cannot deadlock, and
// the balance is re-checked after the lock is held.
func (s *Store) ApplyTransfer(ctx context.Context, rec TransferRecord) (*db.Transaction, error) {
	if rec.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if rec.SenderWalletID == rec.ReceiverWalletID {
		return nil, fmt.Errorf("wallet: cannot transfer to self")
	}

	var created *db.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := []int64{rec.SenderWalletID, rec.ReceiverWalletID}
		if ids[0] > ids[1] {
			ids[0], ids[1] = ids[1], ids[0]
		}

		var locked []db.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Order("id").
			Find(&locked).Error; err != nil {
			return fmt.Errorf("locking wallets: %w", err)
		}
		if len(locked) != 2 {
			return ErrWalletNotFound
		}

		var sender, receiver *db.Wallet
		for i := range locked {
			switch locked[i].ID {
			case rec.SenderWalletID:
				sender = &locked[i]
			case rec.ReceiverWalletID:
				receiver = &locked[i]
			}
		}
		if sender == nil || receiver == nil {
			return ErrWalletNotFound
		}
		if !sender.Active || !receiver.Active {
			return ErrWalletNotFound
		}

		if sender.Balance.LessThan(rec.Amount) {
			return ErrInsufficientBalance
		}

		now := time.Now()
		if err := tx.Model(sender).Updates(map[string]any{
			"balance":         sender.Balance.Sub(rec.Amount),
			"last_mutated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("debiting sender: %w", err)
		}
		if err := tx.Model(receiver).Updates(map[string]any{
			"balance":         receiver.Balance.Add(rec.Amount),
			"last_mutated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("crediting receiver: %w", err)
		}

		senderID, receiverID := rec.SenderWalletID, rec.ReceiverWalletID
		created = &db.Transaction{
			SenderWalletID:   &senderID,
			ReceiverWalletID: &receiverID,
			Type:             db.TxTypeTransfer,
			Amount:           rec.Amount,
			LocalHash:        rec.LocalHash,
			Status:           db.TxStatusPending,
			Proof:            rec.Proof,
			PublicInputs:     rec.PublicInputs,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("recording transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("transfer applied",
		zap.Int64("sender_wallet_id", rec.SenderWalletID),
		zap.Int64("receiver_wallet_id", rec.ReceiverWalletID),
		zap.String("amount", rec.Amount.String()))
	return created, nil
}

// Credit adds amount to a single wallet and records a transaction of the
// given type. Used by the faucet and the top-up crypto leg.
func (s *Store) Credit(ctx context.Context, walletID int64, amount decimal.Decimal, txType, localHash string) (*db.Transaction, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	var created *db.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var w db.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&w, walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if !w.Active {
			return ErrWalletNotFound
		}

		now := time.Now()
		if err := tx.Model(&w).Updates(map[string]any{
			"balance":         w.Balance.Add(amount),
			"last_mutated_at": now,
		}).Error; err != nil {
			return fmt.Errorf("crediting wallet: %w", err)
		}

		created = &db.Transaction{
			ReceiverWalletID: &w.ID,
			Type:             txType,
			Amount:           amount,
			LocalHash:        localHash,
			Status:           db.TxStatusPending,
		}
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("recording credit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TransactionByLocalHash finds the transaction carrying the given ledger
// hash, or nil when none exists. Lets idempotent flows detect an earlier
// credit before inserting another.
func (s *Store) TransactionByLocalHash(ctx context.Context, localHash string) (*db.Transaction, error) {
	var tx db.Transaction
	err := s.db.WithContext(ctx).Where("local_hash = ?", localHash).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// AttachChainTxHash records the broadcast hash on a still-pending
// transaction. The row stays pending until a receipt confirms it.
func (s *Store) AttachChainTxHash(ctx context.Context, txID int64, chainTxHash string) error {
	res := s.db.WithContext(ctx).Model(&db.Transaction{}).
		Where("id = ? AND status = ?", txID, db.TxStatusPending).
		Update("chain_tx_hash", chainTxHash)
	if res.Error != nil {
		return fmt.Errorf("wallet: attaching chain hash to transaction %d: %w", txID, res.Error)
	}
	return nil
}

// MarkTransactionCompleted moves a pending transaction to completed and
// attaches the chain hash. A no-op if the row already left pending.
func (s *Store) MarkTransactionCompleted(ctx context.Context, txID int64, chainTxHash string, simulated bool) error {
	res := s.db.WithContext(ctx).Model(&db.Transaction{}).
		Where("id = ? AND status = ?", txID, db.TxStatusPending).
		Updates(map[string]any{
			"chain_tx_hash": chainTxHash,
			"simulated":     simulated,
			"status":        db.TxStatusCompleted,
		})
	if res.Error != nil {
		return fmt.Errorf("wallet: completing transaction %d: %w", txID, res.Error)
	}
	return nil
}

// MarkTransactionFailed moves a pending transaction to failed. Balances are
// deliberately not rolled back: the internal ledger is the source of truth
// and the chain leg is reconciled separately.
func (s *Store) MarkTransactionFailed(ctx context.Context, txID int64) error {
	res := s.db.WithContext(ctx).Model(&db.Transaction{}).
		Where("id = ? AND status = ?", txID, db.TxStatusPending).
		Update("status", db.TxStatusFailed)
	if res.Error != nil {
		return fmt.Errorf("wallet: failing transaction %d: %w", txID, res.Error)
	}
	return nil
}

// History returns the wallet's transactions, newest first.
func (s *Store) History(ctx context.Context, walletID int64, limit int) ([]db.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var transactions []db.Transaction
	err := s.db.WithContext(ctx).
		Where("sender_wallet_id = ? OR receiver_wallet_id = ?", walletID, walletID).
		Order("created_at desc").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

// PendingTransactions lists broadcastable transactions still awaiting a
// chain receipt, oldest first, for the reconciler.
func (s *Store) PendingTransactions(ctx context.Context, limit int) ([]db.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var transactions []db.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND chain_tx_hash IS NOT NULL", db.TxStatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}
