// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64  `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string
	ZKEnabled    bool
	ZKCommitment string
	ZKPublicKeyX string
	ZKPublicKeyY string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Wallets      []Wallet
}

type Wallet struct {
	ID              int64           `gorm:"primaryKey"`
	UserID          int64           `gorm:"index"`
	InternalAddress string          `gorm:"uniqueIndex;size:40"`
	ChainAddress    *string         `gorm:"uniqueIndex;size:42"`
	PublicKey       string          `gorm:"size:130"` // uncompressed, 04 || X || Y
	PrivateKey      string          // AES-GCM encrypted, hex
	Balance         decimal.Decimal `gorm:"type:numeric(30,18)"`
	Currency        string          `gorm:"size:10;default:MATIC"`
	Active          bool            `gorm:"default:true"`
	LastSyncAt      *time.Time
	LastMutatedAt   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NeedsSync reports whether the cached balance is stale enough to refresh
// from the chain.
func (w *Wallet) NeedsSync(now time.Time) bool {
	if w.LastSyncAt == nil {
		return true
	}
	return now.Sub(*w.LastSyncAt) > 5*time.Minute
}

const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

const (
	TxTypeTransfer = "transfer"
	TxTypeFaucet   = "faucet"
	TxTypeTopUp    = "topup"
)

type Transaction struct {
	ID               int64           `gorm:"primaryKey"`
	SenderWalletID   *int64          `gorm:"index"`
	ReceiverWalletID *int64          `gorm:"index"`
	Type             string          `gorm:"size:16"`
	Amount           decimal.Decimal `gorm:"type:numeric(30,18)"`
	LocalHash        string          `gorm:"uniqueIndex;size:64"`
	ChainTxHash      *string         `gorm:"size:66"`
	Status           string          `gorm:"size:16;index"`
	Simulated        bool
	Proof            string `gorm:"type:text"`
	PublicInputs     string `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	TopUpStatusPending   = "pending"
	TopUpStatusPaid      = "paid"
	TopUpStatusCompleted = "completed"
	TopUpStatusFailed    = "failed"
)

type TopUpTransaction struct {
	ID           int64           `gorm:"primaryKey"`
	UserID       int64           `gorm:"index"`
	WalletID     int64           `gorm:"index"`
	OrderID      string          `gorm:"uniqueIndex;size:64"`
	FiatAmount   decimal.Decimal `gorm:"type:numeric(20,2)"`
	FiatCurrency string          `gorm:"size:10;default:IDR"`
	CryptoAmount decimal.Decimal `gorm:"type:numeric(30,18)"`
	Rate         decimal.Decimal `gorm:"type:numeric(30,10)"`
	Status       string          `gorm:"size:16;index"`
	SnapToken    string
	RedirectURL  string
	ChainTxHash  *string `gorm:"size:66"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ZKProofRecord struct {
	ID           int64   `gorm:"primaryKey"`
	UserID       *int64  `gorm:"index"`
	ProofType    string  `gorm:"size:16"`
	Nullifier    *string `gorm:"uniqueIndex;size:128"`
	Commitment   string  `gorm:"size:128"`
	Verified     bool
	FallbackUsed bool
	CreatedAt    time.Time
}

type FaucetRequest struct {
	ID          int64           `gorm:"primaryKey"`
	WalletID    int64           `gorm:"index"`
	Amount      decimal.Decimal `gorm:"type:numeric(30,18)"`
	ChainTxHash *string         `gorm:"size:66"`
	Simulated   bool
	CreatedAt   time.Time `gorm:"index"`
}
