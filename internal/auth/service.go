package auth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on login failure; the caller must not
// learn whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountStore is the account storage needed by the auth service.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// TokenLedger grants the welcome tokens on signup and reads the balance
// reported back to the client.
type TokenLedger interface {
	Append(ctx context.Context, in ledger.AppendInput) (*ledger.AppendResult, error)
	Balance(ctx context.Context, accountID uuid.UUID) int64
}

type Service interface {
	Register(ctx context.Context, email, password, name string) (*models.Account, int64, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, bool, error)
}

type service struct {
	accounts AccountStore
	tokens   TokenLedger
	secret   []byte
	log      *slog.Logger
}

func NewService(accounts AccountStore, tokens TokenLedger, log *slog.Logger) *service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "supersecretmvp"
	}
	if log == nil {
		log = slog.Default()
	}
	return &service{accounts: accounts, tokens: tokens, secret: []byte(secret), log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

// Register creates the account and grants the welcome tokens as the
// account's first ledger entry. Returns the account and its starting
// balance.
func (s *service) Register(ctx context.Context, email, password, name string) (*models.Account, int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, 0, err
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Plan:         "free",
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, 0, ErrDuplicateEmail
		}
		return nil, 0, err
	}

	grant, err := s.tokens.Append(ctx, ledger.AppendInput{
		AccountID:   acc.ID,
		Type:        models.TxTypeAdminCredit,
		Amount:      models.WelcomeGrantTokens,
		Description: "Welcome grant",
	})
	if err != nil {
		// Account exists but starts at zero tokens. Support can re-grant.
		s.log.Error("welcome grant failed", "account_id", acc.ID, "error", err)
		return acc, 0, nil
	}
	return acc, grant.NewBalance, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID, acc.IsAdmin)
}

func (s *service) issueToken(accountID uuid.UUID, isAdmin bool) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		IsAdmin: isAdmin,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, bool, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, false, errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, c.IsAdmin, nil
}
