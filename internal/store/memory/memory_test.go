package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
	"dukani/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestPanicInsideTxRollsBack(t *testing.T) {
	s := New()
	assert.Panics(t, func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.InsertUser(ctx, domain.User{Username: "ghost", Role: domain.RoleSeller, Password: "x"}); err != nil {
				return err
			}
			panic("interrupted")
		})
	})

	_, err := s.GetUserByUsername(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// The store lock must have been released.
	err = s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertUser(ctx, domain.User{Username: "real", Role: domain.RoleSeller, Password: "x"})
		return err
	})
	require.NoError(t, err)
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	var id int64
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		u, err := tx.InsertUser(ctx, domain.User{Username: "copy", Role: domain.RoleSeller, Password: "x"})
		if err != nil {
			return err
		}
		id = u.ID
		return nil
	}))

	u, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	u.Username = "mutated"

	again, err := s.GetUser(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "copy", again.Username)
}
