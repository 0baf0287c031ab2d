package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"dukani/backend/internal/domain"
	"dukani/backend/internal/service"
)

// Authenticator is the part of the service that checks credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username string, password string) (domain.User, []int64, error)
	VerifyStorePIN(ctx context.Context, storeCode string, pin string) (domain.Store, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    Authenticator
	clock    func() time.Time
}

type dukaniClaims struct {
	jwtlib.RegisteredClaims
	Username string  `json:"username"`
	Role     string  `json:"role"`
	StoreIDs []int64 `json:"store_ids"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users Authenticator) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		clock:    time.Now,
	}
}

// Login checks the user's password. When a store code is given the store PIN
// must match too, and the token is scoped to that one store.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, storeIDs, err := a.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	if req.StoreCode != "" {
		st, err := a.users.VerifyStorePIN(ctx, req.StoreCode, req.StorePIN)
		if err != nil {
			return domain.LoginResponse{}, err
		}
		actor := domain.Actor{StoreIDs: storeIDs}
		if !actor.CanAccessStore(st.ID) {
			return domain.LoginResponse{}, fmt.Errorf("not a member of store %s: %w", st.StoreCode, service.ErrInvalidCredentials)
		}
		storeIDs = []int64{st.ID}
	}

	expiresAt := a.clock().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, storeIDs, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		StoreIDs:    storeIDs,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &dukaniClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.clock))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		UserID:   userID,
		Username: claims.Username,
		Role:     claims.Role,
		StoreIDs: claims.StoreIDs,
	}, nil
}

func (a *AuthManager) sign(user domain.User, storeIDs []int64, expiresAt time.Time) (string, error) {
	if storeIDs == nil {
		storeIDs = []int64{}
	}
	claims := dukaniClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwtlib.NewNumericDate(a.clock().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "dukani",
		},
		Username: user.Username,
		Role:     user.Role,
		StoreIDs: storeIDs,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
