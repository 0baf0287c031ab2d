package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/store"
)

const (
	storeCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	storeCodeAttempts = 5
	minPasswordLength = 6
	minPINLength      = 4
)

func (s *Service) GetStore(ctx context.Context, id int64) (domain.Store, error) {
	st, err := lookupStore(ctx, s.repo, id)
	if err != nil {
		return domain.Store{}, err
	}
	return *st, nil
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

// CreateStore registers a store under a fresh random code. When an owner is
// given, the owner becomes the store's boss and joins it.
func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (domain.Store, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.Store{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	req.BusinessType = strings.ToLower(strings.TrimSpace(req.BusinessType))
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	req.CurrencyCode = strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if req.BusinessType == "" {
		req.BusinessType = domain.BusinessRetail
	}
	if req.Name == "" || !domain.OneOf(req.BusinessType, domain.BusinessTypes) {
		return domain.Store{}, store.ErrValidation
	}
	if req.Country != "" && len(req.Country) != 2 {
		return domain.Store{}, fmt.Errorf("country must be an ISO 3166 alpha-2 code: %w", store.ErrValidation)
	}
	if len(strings.TrimSpace(req.PIN)) < minPINLength {
		return domain.Store{}, fmt.Errorf("store pin needs at least %d characters: %w", minPINLength, store.ErrValidation)
	}
	if actor, ok := ActorFromContext(ctx); ok && req.OwnerID == nil {
		req.OwnerID = &actor.UserID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(req.PIN)), bcrypt.DefaultCost)
	if err != nil {
		return domain.Store{}, err
	}

	for attempt := 1; attempt <= storeCodeAttempts; attempt++ {
		code, err := newStoreCode()
		if err != nil {
			return domain.Store{}, err
		}

		now := s.now()
		var created domain.Store
		err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if req.OwnerID != nil {
				owner, err := tx.GetUser(ctx, *req.OwnerID)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("owner %d: %w", *req.OwnerID, store.ErrUnknownUser)
				}
				if err != nil {
					return err
				}
				if owner.Role != domain.RoleBoss {
					return fmt.Errorf("owner %d is not a boss: %w", owner.ID, store.ErrValidation)
				}
			}

			st, err := tx.InsertStore(ctx, domain.Store{
				StoreCode:    code,
				Name:         req.Name,
				Location:     req.Location,
				BusinessType: req.BusinessType,
				OwnerID:      req.OwnerID,
				Country:      req.Country,
				CurrencyCode: req.CurrencyCode,
				Symbol:       strings.TrimSpace(req.Symbol),
				Password:     string(hash),
				HasBoss:      req.OwnerID != nil,
				CreatedAt:    now,
			})
			if err != nil {
				return err
			}
			if req.OwnerID != nil {
				if err := s.joinStore(ctx, tx, now, *req.OwnerID, *st); err != nil {
					return err
				}
			}
			created = *st
			return emit(ctx, tx, now, st.ID, domain.EntityStore, st.ID, domain.OutboxOpInsert, st)
		})
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"field":      "service.CreateStore",
				"store_id":   created.ID,
				"store_code": created.StoreCode,
			}).Info("store created")
			return created, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return domain.Store{}, err
		}
		if _, lookupErr := s.repo.GetStoreByCode(ctx, code); lookupErr != nil {
			// The duplicate was the name, not the code.
			return domain.Store{}, err
		}
	}
	return domain.Store{}, fmt.Errorf("no free store code after %d attempts: %w", storeCodeAttempts, store.ErrContention)
}

// joinStore adds the membership row and makes the store current when the
// user has none yet. Bosses also mark the store as having a boss.
func (s *Service) joinStore(ctx context.Context, tx store.Tx, now time.Time, userID int64, st domain.Store) error {
	u, err := tx.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("user %d: %w", userID, store.ErrUnknownUser)
	}
	if err != nil {
		return err
	}

	membership, err := tx.InsertUserStore(ctx, domain.UserStore{UserID: userID, StoreID: st.ID, StoreCode: st.StoreCode})
	if err != nil {
		return err
	}
	if err := emit(ctx, tx, now, st.ID, domain.EntityUserStore, membership.ID, domain.OutboxOpInsert, membership); err != nil {
		return err
	}
	if u.CurrentStoreID == nil {
		if err := tx.SetCurrentStore(ctx, userID, st.ID, st.StoreCode); err != nil {
			return err
		}
	}
	if u.Role == domain.RoleBoss && !st.HasBoss {
		if err := tx.MarkStoreHasBoss(ctx, st.ID); err != nil {
			return err
		}
	}
	return nil
}

// VerifyStorePIN checks the shared store PIN against its stored hash.
func (s *Service) VerifyStorePIN(ctx context.Context, storeCode string, pin string) (domain.Store, error) {
	st, err := s.repo.GetStoreByCode(ctx, strings.ToUpper(strings.TrimSpace(storeCode)))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Store{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Store{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(st.Password), []byte(strings.TrimSpace(pin))) != nil {
		return domain.Store{}, ErrInvalidCredentials
	}
	return *st, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.MiddleName = strings.TrimSpace(req.MiddleName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.SalaryFrequency = strings.ToLower(strings.TrimSpace(req.SalaryFrequency))
	if req.Role == "" {
		req.Role = domain.RoleSeller
	}
	if req.SalaryFrequency == "" {
		req.SalaryFrequency = domain.FrequencyMonthly
	}

	if req.Role == domain.RoleSeller {
		// Sellers are hired by a boss. Bosses register themselves.
		if err := requireBoss(ctx); err != nil {
			return domain.User{}, err
		}
	}
	if req.Username == "" || req.FirstName == "" || req.LastName == "" {
		return domain.User{}, store.ErrValidation
	}
	if req.Role != domain.RoleBoss && req.Role != domain.RoleSeller {
		return domain.User{}, fmt.Errorf("role %q: %w", req.Role, store.ErrValidation)
	}
	if len(req.Password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("password needs at least %d characters: %w", minPasswordLength, store.ErrValidation)
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		return domain.User{}, fmt.Errorf("email %q: %w", req.Email, store.ErrValidation)
	}
	if req.SalaryAmount.IsNegative() || !domain.OneOf(req.SalaryFrequency, domain.SalaryFrequencies) {
		return domain.User{}, store.ErrValidation
	}

	var st *domain.Store
	if req.StoreID != 0 {
		var err error
		if st, err = lookupStore(ctx, s.repo, req.StoreID); err != nil {
			return domain.User{}, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		Username:        req.Username,
		FirstName:       req.FirstName,
		MiddleName:      req.MiddleName,
		LastName:        req.LastName,
		Password:        string(hash),
		Role:            req.Role,
		WhatsappNumber:  strings.TrimSpace(req.WhatsappNumber),
		SalaryAmount:    req.SalaryAmount,
		SalaryFrequency: req.SalaryFrequency,
		IsActive:        true,
		CreatedAt:       s.now(),
	}
	if req.Email != "" {
		user.Email = &req.Email
	}

	var created domain.User
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.InsertUser(ctx, user)
		if err != nil {
			return err
		}
		storeID := int64(0)
		if st != nil {
			storeID = st.ID
			if err := s.joinStore(ctx, tx, user.CreatedAt, u.ID, *st); err != nil {
				return err
			}
			if u, err = tx.GetUser(ctx, u.ID); err != nil {
				return err
			}
		}
		created = *u
		return emit(ctx, tx, user.CreatedAt, storeID, domain.EntityUser, u.ID, domain.OutboxOpInsert, u)
	})
	if err != nil {
		return domain.User{}, err
	}
	return created, nil
}

// Authenticate checks a username and password. Inactive users cannot sign in.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.User, []int64, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, nil, err
	}
	if !u.IsActive || bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return domain.User{}, nil, ErrInvalidCredentials
	}

	memberships, err := s.repo.ListUserStores(ctx, u.ID)
	if err != nil {
		return domain.User{}, nil, err
	}
	storeIDs := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		storeIDs = append(storeIDs, m.StoreID)
	}
	return *u, storeIDs, nil
}

func (s *Service) AddUserToStore(ctx context.Context, userID int64, storeID int64) (domain.UserStore, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.UserStore{}, err
	}
	st, err := lookupStore(ctx, s.repo, storeID)
	if err != nil {
		return domain.UserStore{}, err
	}

	now := s.now()
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.joinStore(ctx, tx, now, userID, *st)
	})
	if err != nil {
		return domain.UserStore{}, err
	}

	memberships, err := s.repo.ListUserStores(ctx, userID)
	if err != nil {
		return domain.UserStore{}, err
	}
	for _, m := range memberships {
		if m.StoreID == storeID {
			return m, nil
		}
	}
	return domain.UserStore{}, store.ErrNotFound
}

func (s *Service) ListUserStores(ctx context.Context, userID int64) ([]domain.UserStore, error) {
	if _, err := lookupUser(ctx, s.repo, userID); err != nil {
		return nil, err
	}
	return s.repo.ListUserStores(ctx, userID)
}

// SetCommission replaces the user's active commission.
func (s *Service) SetCommission(ctx context.Context, req domain.CommissionSetRequest) (domain.UserCommission, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.UserCommission{}, err
	}
	req.Frequency = strings.ToLower(strings.TrimSpace(req.Frequency))
	if req.Rate.IsNegative() || req.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return domain.UserCommission{}, fmt.Errorf("commission rate %s outside 0..1: %w", req.Rate, store.ErrValidation)
	}
	if !domain.OneOf(req.Frequency, domain.CostFrequencies) {
		return domain.UserCommission{}, fmt.Errorf("commission frequency %q: %w", req.Frequency, store.ErrValidation)
	}

	now := s.now()
	if req.ExpiryDate != nil && !req.ExpiryDate.After(now) {
		return domain.UserCommission{}, fmt.Errorf("commission already expired: %w", store.ErrValidation)
	}

	var created domain.UserCommission
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %d: %w", req.UserID, store.ErrUnknownUser)
		}
		if err != nil {
			return err
		}
		if err := tx.DeactivateCommissions(ctx, u.ID); err != nil {
			return err
		}
		c, err := tx.InsertCommission(ctx, domain.UserCommission{
			UserID:     u.ID,
			Rate:       req.Rate,
			Frequency:  req.Frequency,
			CreatedAt:  now,
			ExpiryDate: req.ExpiryDate,
			IsActive:   true,
		})
		if err != nil {
			return err
		}
		created = *c
		storeID := int64(0)
		if u.CurrentStoreID != nil {
			storeID = *u.CurrentStoreID
		}
		return emit(ctx, tx, now, storeID, domain.EntityCommission, c.ID, domain.OutboxOpInsert, c)
	})
	if err != nil {
		return domain.UserCommission{}, err
	}
	return created, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.Product{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	req.BigUnit = strings.TrimSpace(req.BigUnit)
	if req.Name == "" || req.LowStockThreshold < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if (req.ParentProductID == nil) != (req.RelationToParent == nil) {
		return domain.Product{}, fmt.Errorf("parent product and relation go together: %w", store.ErrValidation)
	}
	if req.RelationToParent != nil && *req.RelationToParent < 1 {
		return domain.Product{}, fmt.Errorf("relation to parent must be at least 1: %w", store.ErrValidation)
	}
	if req.LowStockThreshold == 0 {
		req.LowStockThreshold = domain.DefaultLowThreshold
	}

	now := s.now()
	var created domain.Product
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		st, err := tx.GetStore(ctx, req.StoreID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("store %d: %w", req.StoreID, store.ErrUnknownStore)
		}
		if err != nil {
			return err
		}
		if req.ParentProductID != nil {
			parent, err := tx.GetProduct(ctx, *req.ParentProductID)
			if _, err := productInStore(parent, err, st.ID, *req.ParentProductID); err != nil {
				return err
			}
		}

		seq, err := tx.NextProductSeq(ctx, st.ID)
		if err != nil {
			return err
		}
		p, err := tx.InsertProduct(ctx, domain.Product{
			ProductCode:       productCode(st.StoreCode, seq),
			Name:              req.Name,
			StoreID:           st.ID,
			StoreCode:         st.StoreCode,
			SequenceNumber:    seq,
			ParentProductID:   req.ParentProductID,
			RelationToParent:  req.RelationToParent,
			LowStockThreshold: req.LowStockThreshold,
			Unit:              req.Unit,
			BigUnit:           req.BigUnit,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			return err
		}
		created = *p
		return emit(ctx, tx, now, st.ID, domain.EntityProduct, p.ID, domain.OutboxOpInsert, p)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return created, nil
}

func (s *Service) GetProduct(ctx context.Context, storeID int64, productID int64) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, productID)
	if p, err = productInStore(p, err, storeID, productID); err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) ListProducts(ctx context.Context, storeID int64) ([]domain.Product, error) {
	if _, err := lookupStore(ctx, s.repo, storeID); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, storeID)
}

// ListLowStock returns products at or below their low stock threshold.
func (s *Service) ListLowStock(ctx context.Context, storeID int64) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0)
	for _, p := range products {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) SetPrice(ctx context.Context, req domain.PriceSetRequest) (domain.StorePrice, error) {
	if err := requireBoss(ctx); err != nil {
		return domain.StorePrice{}, err
	}
	if !req.RetailPrice.IsPositive() || !req.WholesalePrice.IsPositive() || req.WholesaleThreshold < 1 {
		return domain.StorePrice{}, store.ErrValidation
	}

	now := s.now()
	var saved domain.StorePrice
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, req.ProductID)
		if p, err = productInStore(p, err, req.StoreID, req.ProductID); err != nil {
			return err
		}
		price, err := tx.UpsertPrice(ctx, domain.StorePrice{
			StoreID:            req.StoreID,
			ProductID:          p.ID,
			ProductCode:        p.ProductCode,
			RetailPrice:        req.RetailPrice,
			WholesalePrice:     req.WholesalePrice,
			WholesaleThreshold: req.WholesaleThreshold,
		})
		if err != nil {
			return err
		}
		saved = *price
		return emit(ctx, tx, now, req.StoreID, domain.EntityPrice, price.ID, domain.OutboxOpUpdate, price)
	})
	if err != nil {
		return domain.StorePrice{}, err
	}

	if err := s.prices.Delete(ctx, saved.StoreID, saved.ProductID); err != nil {
		s.log.WithFields(logrus.Fields{
			"field":      "service.SetPrice",
			"store_id":   saved.StoreID,
			"product_id": saved.ProductID,
		}).WithError(err).Warn("failed to invalidate cached price")
	}
	return saved, nil
}

// price reads through the price cache. Cache failures fall back to storage.
func (s *Service) price(ctx context.Context, storeID int64, productID int64) (domain.StorePrice, error) {
	cached, ok, err := s.prices.Get(ctx, storeID, productID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"field":      "service.price",
			"store_id":   storeID,
			"product_id": productID,
		}).WithError(err).Warn("price cache read failed")
	}
	if ok {
		return *cached, nil
	}

	price, err := s.storedPrice(ctx, storeID, productID)
	if err != nil {
		return domain.StorePrice{}, err
	}
	if err := s.prices.Set(ctx, price, s.priceTTL); err != nil {
		s.log.WithFields(logrus.Fields{
			"field":      "service.price",
			"store_id":   storeID,
			"product_id": productID,
		}).WithError(err).Warn("price cache write failed")
	}
	return price, nil
}

// storedPrice reads the latest price row, skipping the cache. Sales check
// tiers against it so a stale cache entry cannot reject them.
func (s *Service) storedPrice(ctx context.Context, storeID int64, productID int64) (domain.StorePrice, error) {
	price, err := s.repo.GetPrice(ctx, storeID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.StorePrice{}, fmt.Errorf("product %d has no price in store %d: %w", productID, storeID, store.ErrValidation)
	}
	if err != nil {
		return domain.StorePrice{}, err
	}
	return *price, nil
}

// QuotePrice picks the tier a quantity qualifies for and prices the line.
func (s *Service) QuotePrice(ctx context.Context, storeID int64, productID int64, quantity int) (domain.PriceQuote, error) {
	if quantity < 1 {
		return domain.PriceQuote{}, store.ErrValidation
	}
	if _, err := s.GetProduct(ctx, storeID, productID); err != nil {
		return domain.PriceQuote{}, err
	}
	price, err := s.price(ctx, storeID, productID)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	quote := domain.PriceQuote{
		StoreID:     storeID,
		ProductID:   productID,
		Quantity:    quantity,
		IsWholesale: price.QualifiesForWholesale(quantity),
		UnitPrice:   price.RetailPrice,
	}
	if quote.IsWholesale {
		quote.UnitPrice = price.WholesalePrice
	}
	quote.LineTotal = quote.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return quote, nil
}

func productCode(storeCode string, seq int) string {
	return fmt.Sprintf("%s_%04d", storeCode, seq)
}

func newStoreCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(4))
	if err != nil {
		return "", err
	}
	length := 4 + int(n.Int64())
	alphabet := big.NewInt(int64(len(storeCodeAlphabet)))

	var b strings.Builder
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b.WriteByte(storeCodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
