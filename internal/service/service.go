package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"

	"dukani/backend/internal/cache"
	"dukani/backend/internal/domain"
	"dukani/backend/internal/lock"
	"dukani/backend/internal/store"
)

var (
	ErrForbidden          = errors.New("boss role required")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Locker      lock.Locker
	Prices      cache.PriceCache
	Logger      logrus.FieldLogger
	MaxAttempts int
	Backoff     time.Duration
	PriceTTL    time.Duration
	Clock       func() time.Time
}

type Service struct {
	repo        store.Repository
	locker      lock.Locker
	prices      cache.PriceCache
	log         logrus.FieldLogger
	maxAttempts int
	backoff     time.Duration
	priceTTL    time.Duration
	clock       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:        repo,
		locker:      opts.Locker,
		prices:      opts.Prices,
		log:         opts.Logger,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		priceTTL:    opts.PriceTTL,
		clock:       opts.Clock,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.prices == nil {
		s.prices = cache.NoopPriceCache{}
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.backoff <= 0 {
		s.backoff = 25 * time.Millisecond
	}
	if s.priceTTL <= 0 {
		s.priceTTL = 5 * time.Minute
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// requireBoss rejects sellers. Calls without an actor come from trusted
// in-process callers such as the importer and the sweep loop.
func requireBoss(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if ok && actor.Role != domain.RoleBoss {
		return ErrForbidden
	}
	return nil
}

// actingUser prefers the authenticated actor over the id in the request body.
func actingUser(ctx context.Context, requested int64) int64 {
	if actor, ok := ActorFromContext(ctx); ok && actor.UserID != 0 {
		return actor.UserID
	}
	return requested
}

// locked runs fn in one transaction while holding keys, retrying the whole
// attempt on contention. It returns the number of attempts made.
func (s *Service) locked(ctx context.Context, op string, keys []string, fn func(ctx context.Context, tx store.Tx) error) (int, error) {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.attempt(ctx, keys, fn)
		if !errors.Is(err, store.ErrContention) {
			return attempt, err
		}

		s.log.WithFields(logrus.Fields{
			"field":   "service.locked",
			"op":      op,
			"attempt": attempt,
		}).Warn("contention, retrying")

		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return s.maxAttempts, err
}

func (s *Service) attempt(ctx context.Context, keys []string, fn func(ctx context.Context, tx store.Tx) error) error {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()
	return s.repo.RunInTx(ctx, fn)
}

func emit(ctx context.Context, tx store.Tx, at time.Time, storeID int64, entity string, id int64, op string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", entity, id, err)
	}
	return tx.AppendOutbox(ctx, domain.OutboxEvent{
		StoreID:   storeID,
		Entity:    entity,
		EntityID:  id,
		Op:        op,
		Payload:   string(payload),
		CreatedAt: at,
	})
}

func lookupStore(ctx context.Context, repo store.Repository, id int64) (*domain.Store, error) {
	st, err := repo.GetStore(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("store %d: %w", id, store.ErrUnknownStore)
	}
	return st, err
}

func lookupUser(ctx context.Context, repo store.Repository, id int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrUnknownUser)
	}
	return u, err
}

// productInStore resolves a product and checks it belongs to storeID.
func productInStore(p *domain.Product, err error, storeID int64, productID int64) (*domain.Product, error) {
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.StoreID != storeID) {
		return nil, fmt.Errorf("product %d in store %d: %w", productID, storeID, store.ErrUnknownProduct)
	}
	return p, err
}

// normalizePhone returns the E.164 form of phone, read in the store's region.
func normalizePhone(phone string, region string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("debtor phone is required: %w", store.ErrValidation)
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = "KE"
	}
	num, err := libphonenumber.Parse(phone, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("debtor phone %q: %w", phone, store.ErrValidation)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// rangeOrDefault fills an open range: from defaults to the epoch, to to a day ahead.
func (s *Service) rangeOrDefault(from time.Time, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = s.now().Add(24 * time.Hour)
	}
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("range %s..%s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), store.ErrValidation)
	}
	return from, to, nil
}
