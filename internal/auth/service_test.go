package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reelforge/backend/internal/ledger"
	"github.com/reelforge/backend/internal/models"
)

type fakeAccounts struct {
	byEmail map[string]*models.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byEmail: make(map[string]*models.Account)}
}

func (f *fakeAccounts) Create(_ context.Context, a *models.Account) error {
	if _, ok := f.byEmail[a.Email]; ok {
		return &pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"}
	}
	f.byEmail[a.Email] = a
	return nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	a, ok := f.byEmail[email]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return a, nil
}

type fakeTokenLedger struct {
	appends []ledger.AppendInput
}

func (f *fakeTokenLedger) Append(_ context.Context, in ledger.AppendInput) (*ledger.AppendResult, error) {
	f.appends = append(f.appends, in)
	return &ledger.AppendResult{TransactionID: uuid.New(), NewBalance: in.Amount}, nil
}

func (f *fakeTokenLedger) Balance(context.Context, uuid.UUID) int64 {
	var total int64
	for _, in := range f.appends {
		total += in.Amount
	}
	return total
}

func TestRegisterGrantsWelcomeTokens(t *testing.T) {
	accounts := newFakeAccounts()
	tokens := &fakeTokenLedger{}
	svc := NewService(accounts, tokens, nil)

	acc, balance, err := svc.Register(context.Background(), "new@example.com", "hunter2hunter2", "New User")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if balance != models.WelcomeGrantTokens {
		t.Errorf("starting balance = %d, want %d", balance, models.WelcomeGrantTokens)
	}
	if len(tokens.appends) != 1 {
		t.Fatalf("expected exactly one ledger append, got %d", len(tokens.appends))
	}
	grant := tokens.appends[0]
	if grant.Type != models.TxTypeAdminCredit || grant.Amount != models.WelcomeGrantTokens {
		t.Errorf("welcome grant = %s/%d, want %s/%d", grant.Type, grant.Amount, models.TxTypeAdminCredit, int64(models.WelcomeGrantTokens))
	}
	if grant.AccountID != acc.ID {
		t.Error("grant booked to the wrong account")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	accounts := newFakeAccounts()
	svc := NewService(accounts, &fakeTokenLedger{}, nil)

	if _, _, err := svc.Register(context.Background(), "dup@example.com", "hunter2hunter2", "First"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, _, err := svc.Register(context.Background(), "dup@example.com", "hunter2hunter2", "Second")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	accounts := newFakeAccounts()
	svc := NewService(accounts, &fakeTokenLedger{}, nil)

	acc, _, err := svc.Register(context.Background(), "user@example.com", "hunter2hunter2", "User")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, err := svc.Login(context.Background(), "user@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, isAdmin, err := svc.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != acc.ID {
		t.Errorf("token subject = %s, want %s", id, acc.ID)
	}
	if isAdmin {
		t.Error("fresh account must not be admin")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	accounts := newFakeAccounts()
	svc := NewService(accounts, &fakeTokenLedger{}, nil)

	if _, _, err := svc.Register(context.Background(), "user@example.com", "hunter2hunter2", "User"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login(context.Background(), "user@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "ghost@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}
