// internal/auth/service.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/logging"
	"github.com/zkwallet/zkwallet/internal/zkproof"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrWeakPassword       = errors.New("auth: password must be at least 8 characters")

	// ErrProofRequired: a zk-enabled account must present a login proof.
	// Policy choice, documented: no silent fallback to standard login.
	ErrProofRequired = errors.New("auth: zk-enabled account requires a login proof")

	ErrInvalidProof = errors.New("auth: login proof rejected")
)

// Users is the persistence surface for accounts.
type Users interface {
	Create(ctx context.Context, user *db.User) error
	ByEmail(ctx context.Context, email string) (*db.User, error)
}

// WalletCreator provisions the custodial wallet at registration.
// Satisfied by *wallet.Store.
type WalletCreator interface {
	CreateWallet(ctx context.Context, userID int64) (*db.Wallet, error)
}

// LoginVerifier checks login proofs. Satisfied by *zkproof.Engine.
type LoginVerifier interface {
	VerifyLoginProof(proofB64, storedCommitment, recomputedCommitment string) bool
}

// Service handles registration and login. ZK auth is opt-in per account:
// non-ZK users authenticate with bcrypt alone, ZK users additionally present
// a commitment proof.
type Service struct {
	users   Users
	wallets WalletCreator
	proofs  LoginVerifier
}

func NewService(users Users, wallets WalletCreator, proofs LoginVerifier) *Service {
	return &Service{users: users, wallets: wallets, proofs: proofs}
}

// Register creates the account and its custodial wallet. For zk-enabled
// accounts the login commitment is derived from the credentials so the
// client can independently reproduce it.
func (s *Service) Register(ctx context.Context, email, password string, zkEnabled bool) (*db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("auth: invalid email")
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hashing password: %w", err)
	}

	user := &db.User{
		Email:        email,
		PasswordHash: string(hash),
		ZKEnabled:    zkEnabled,
	}
	if zkEnabled {
		user.ZKCommitment = zkproof.DeriveLoginCommitment(email, password)
		user.ZKPublicKeyX, user.ZKPublicKeyY = zkproof.DeriveLoginPublicKey(user.ZKCommitment)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if _, err := s.wallets.CreateWallet(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("auth: provisioning wallet: %w", err)
	}

	logging.Info("user registered", zap.Int64("user_id", user.ID), zap.Bool("zk_enabled", zkEnabled))
	return user, nil
}

// Login authenticates a user. A zk-enabled account with no proof is
// rejected with ErrProofRequired rather than silently downgraded to a
// standard login.
func (s *Service) Login(ctx context.Context, email, password, proofB64 string) (*db.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if user.ZKEnabled {
		if proofB64 == "" {
			return nil, ErrProofRequired
		}
		recomputed := zkproof.DeriveLoginCommitment(email, password)
		if !s.proofs.VerifyLoginProof(proofB64, user.ZKCommitment, recomputed) {
			logging.Warn("zk login proof rejected", zap.Int64("user_id", user.ID))
			return nil, ErrInvalidProof
		}
	}

	return user, nil
}

// GormUsers backs Users with the users table.
type GormUsers struct {
	db *gorm.DB
}

func NewGormUsers(gdb *gorm.DB) *GormUsers {
	return &GormUsers{db: gdb}
}

func (g *GormUsers) Create(ctx context.Context, user *db.User) error {
	return g.db.WithContext(ctx).Create(user).Error
}

func (g *GormUsers) ByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	if err := g.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
