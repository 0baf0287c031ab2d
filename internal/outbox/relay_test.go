package outbox

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
	"dukani/backend/internal/store/memory"
)

type recordingPublisher struct {
	events []domain.OutboxEvent
	failAt int64
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxEvent) error {
	if p.failAt != 0 && event.ID == p.failAt {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// seedStore writes a store row and its outbox event, the way the service does.
func seedStore(t *testing.T, repo *memory.Store, name string) domain.Store {
	t.Helper()
	var created domain.Store
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		st, err := tx.InsertStore(ctx, domain.Store{StoreCode: name[:4], Name: name, BusinessType: domain.BusinessRetail, CreatedAt: time.Now()})
		if err != nil {
			return err
		}
		created = *st
		return tx.AppendOutbox(ctx, domain.OutboxEvent{
			StoreID:   st.ID,
			Entity:    domain.EntityStore,
			EntityID:  st.ID,
			Op:        domain.OutboxOpInsert,
			Payload:   `{"name":"` + name + `"}`,
			CreatedAt: time.Now(),
		})
	})
	require.NoError(t, err)
	return created
}

func TestRelayPublishesInOrderAndMarksSynced(t *testing.T) {
	repo := memory.New()
	first := seedStore(t, repo, "ALPHA")
	second := seedStore(t, repo, "BRAVO")

	pub := &recordingPublisher{}
	relay := NewRelay(repo, pub, time.Second, quiet())

	n, err := relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.events, 2)
	assert.Equal(t, first.ID, pub.events[0].EntityID)
	assert.Equal(t, second.ID, pub.events[1].EntityID)

	pending, err := repo.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	st, err := repo.GetStore(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, st.Synced)

	n, err = relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayStopsAtFirstFailure(t *testing.T) {
	repo := memory.New()
	seedStore(t, repo, "ALPHA")
	seedStore(t, repo, "BRAVO")
	seedStore(t, repo, "CHARLIE")

	pending, err := repo.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	pub := &recordingPublisher{failAt: pending[1].ID}
	relay := NewRelay(repo, pub, time.Second, quiet())

	n, err := relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := repo.ListPendingOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, pending[1].ID, left[0].ID, "failed event must stay at the head")

	pub.failAt = 0
	n, err = relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.events, 3)
}

func TestRelayRunStopsWithContext(t *testing.T) {
	repo := memory.New()
	seedStore(t, repo, "ALPHA")
	pub := &recordingPublisher{}
	relay := NewRelay(repo, pub, 10*time.Millisecond, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, err := repo.ListPendingOutbox(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestStreamValuesCarryEventFields(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	values := streamValues(domain.OutboxEvent{ID: 7, StoreID: 2, Entity: domain.EntitySale, EntityID: 41, Op: domain.OutboxOpInsert, Payload: "{}", CreatedAt: at})

	assert.Equal(t, "7", values["event_id"])
	assert.Equal(t, "2", values["store_id"])
	assert.Equal(t, domain.EntitySale, values["entity"])
	assert.Equal(t, "41", values["entity_id"])
	assert.Equal(t, "2026-03-01T08:30:00Z", values["created_at"])
	assert.NotEmpty(t, values["message_id"])
	assert.NotEqual(t, values["message_id"], streamValues(domain.OutboxEvent{ID: 7})["message_id"])
}

func TestRedisStreamPublisher(t *testing.T) {
	addr := os.Getenv("DUKANI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set DUKANI_TEST_REDIS_ADDR to run redis stream test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	stream := "dukani:test:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	pub := NewRedisStreamPublisher(client, stream, 10)
	require.NoError(t, pub.Publish(context.Background(), domain.OutboxEvent{ID: 1, Entity: domain.EntityDebt, EntityID: 3, Op: domain.OutboxOpInsert, Payload: "{}"}))

	msgs, err := client.XRange(context.Background(), stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EntityDebt, msgs[0].Values["entity"])
	assert.Equal(t, "3", msgs[0].Values["entity_id"])
}
