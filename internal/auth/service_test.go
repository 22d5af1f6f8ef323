package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/internal/zkproof"
)

type memoryUsers struct {
	mu      sync.Mutex
	byEmail map[string]*db.User
	nextID  int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byEmail: make(map[string]*db.User)}
}

func (m *memoryUsers) Create(_ context.Context, user *db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return gorm.ErrDuplicatedKey
	}
	m.nextID++
	user.ID = m.nextID
	copied := *user
	m.byEmail[user.Email] = &copied
	return nil
}

func (m *memoryUsers) ByEmail(_ context.Context, email string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byEmail[email]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *user
	return &copied, nil
}

type memoryWallets struct {
	mu      sync.Mutex
	created []int64
}

func (m *memoryWallets) CreateWallet(_ context.Context, userID int64) (*db.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, userID)
	return &db.Wallet{ID: userID, UserID: userID, Active: true}, nil
}

type memoryNullifiers struct{}

func (memoryNullifiers) Consume(context.Context, string, string, *int64) (bool, error) {
	return true, nil
}

func newTestService() (*Service, *memoryWallets) {
	wallets := &memoryWallets{}
	return NewService(newMemoryUsers(), wallets, zkproof.NewEngine(memoryNullifiers{})), wallets
}

func TestRegisterAndLogin(t *testing.T) {
	svc, wallets := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice@Example.com", "hunter2-long", false)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.ZKEnabled)
	assert.Empty(t, user.ZKCommitment)
	assert.Equal(t, []int64{user.ID}, wallets.created, "registration provisions a wallet")

	got, err := svc.Login(ctx, "alice@example.com", "hunter2-long", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "hunter2-long", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "hunter2-long", false)
	assert.Error(t, err)

	_, err = svc.Register(ctx, "a@b.com", "short", false)
	require.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, "a@b.com", "hunter2-long", false)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "a@b.com", "hunter2-long", false)
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestZKLoginRequiresProof(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "zoe@example.com", "hunter2-long", true)
	require.NoError(t, err)
	assert.True(t, user.ZKEnabled)
	assert.Len(t, user.ZKCommitment, 64)

	// Correct password, no proof: rejected, not downgraded.
	_, err = svc.Login(ctx, "zoe@example.com", "hunter2-long", "")
	require.ErrorIs(t, err, ErrProofRequired)

	// With a matching proof the login passes.
	proof, err := zkproof.BuildLoginProof(zkproof.DeriveLoginCommitment("zoe@example.com", "hunter2-long"))
	require.NoError(t, err)
	got, err := svc.Login(ctx, "zoe@example.com", "hunter2-long", proof)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestZKLoginRejectsMismatchedProof(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "zoe@example.com", "hunter2-long", true)
	require.NoError(t, err)

	// Proof for different credentials carries the wrong commitment.
	proof, err := zkproof.BuildLoginProof(zkproof.DeriveLoginCommitment("zoe@example.com", "other-password"))
	require.NoError(t, err)

	_, err = svc.Login(ctx, "zoe@example.com", "hunter2-long", proof)
	require.ErrorIs(t, err, ErrInvalidProof)
}
