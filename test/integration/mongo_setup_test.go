//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/appointment"
	"github.com/telecare/telecare/internal/domain/identity"
	"github.com/telecare/telecare/internal/platform/docstore"
)

var (
	mongoOnce    sync.Once
	mongoURI     string
	mongoErr     error
	mongoCleanup = func() {}
)

// mongoStore connects to TEST_MONGODB_URI, or a throwaway mongo container
// started on first use, and returns a store on a fresh database with the
// collection indexes in place. The database is dropped when t ends.
func mongoStore(t *testing.T) *docstore.Store {
	t.Helper()
	ctx := context.Background()

	mongoOnce.Do(func() {
		mongoURI = os.Getenv("TEST_MONGODB_URI")
		if mongoURI == "" {
			mongoURI, mongoCleanup, mongoErr = startMongoContainer(ctx)
			if mongoCleanup == nil {
				mongoCleanup = func() {}
			}
		}
	})
	if mongoErr != nil {
		t.Fatalf("setup mongo: %v", mongoErr)
	}

	name := "telecare_" + uuid.NewString()[:8]
	store, err := docstore.Connect(ctx, mongoURI, name)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	indexes := append(append([]docstore.Index{}, identity.Indexes...), appointment.Indexes...)
	if err := store.EnsureIndexes(ctx, indexes); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	t.Cleanup(func() {
		store.Database().Drop(context.Background())
		store.Close(context.Background())
	})
	return store
}

// createMongoUser inserts a user into the document store. Doctors are
// verified and carry the given specialization and fee.
func createMongoUser(t *testing.T, ctx context.Context, repo identity.UserRepository, role, specialization, fee string) *identity.User {
	t.Helper()
	u := &identity.User{
		Name:     role + " " + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@example.test",
		Role:     role,
		IsActive: true,
	}
	if role == identity.RoleDoctor {
		u.IsVerified = true
		u.Specialization = specialization
		u.ConsultationFee = decimal.RequireFromString(fee)
	}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create %s: %v", role, err)
	}
	return u
}
