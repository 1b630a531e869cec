package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

var (
	// ErrAccountNotFound indicates a missing account row.
	ErrAccountNotFound = shared.Classify(shared.ErrNotFound, errors.New("accounts: account not found"))
	// ErrAccountExists indicates the (company, number) pair is already taken.
	ErrAccountExists = shared.Classify(shared.ErrConflict, errors.New("accounts: account number already exists"))
	// ErrPrefixExhausted indicates no free slot remains under a treasury prefix.
	ErrPrefixExhausted = shared.Classify(shared.ErrInvariant, errors.New("accounts: no free account number under prefix"))
	// ErrInvalidNumber indicates a non-numeric account number.
	ErrInvalidNumber = shared.Classify(shared.ErrValidation, errors.New("accounts: account number must be numeric"))
	// ErrUnknownMoneyAccountType indicates an unsupported money account type.
	ErrUnknownMoneyAccountType = shared.Classify(shared.ErrValidation, errors.New("accounts: unknown money account type"))
)

// TxRepository exposes the account operations used inside a transaction.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	FindAccountByNumber(ctx context.Context, companyID int64, number string) (Account, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)
	MaxAccountNumberWithPrefix(ctx context.Context, companyID int64, prefix string) (string, bool, error)
}

// Resolver lazily finds or creates chart-of-accounts rows from business codes.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// ResolveByNumber returns the account with number, creating it with label when missing.
func (r *Resolver) ResolveByNumber(ctx context.Context, tx TxRepository, companyID int64, number, label string) (Account, error) {
	number = strings.TrimSpace(number)
	if !isNumeric(number) {
		return Account{}, fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	account, err := tx.FindAccountByNumber(ctx, companyID, number)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}
	if strings.TrimSpace(label) == "" {
		label = "Account " + number
	}
	created, err := tx.InsertAccount(ctx, Account{CompanyID: companyID, Number: number, Label: label})
	if errors.Is(err, ErrAccountExists) {
		return tx.FindAccountByNumber(ctx, companyID, number)
	}
	if err != nil {
		return Account{}, err
	}
	r.logger.Info("account created",
		slog.Int64("company_id", companyID),
		slog.String("number", created.Number),
		slog.String("label", created.Label),
	)
	return created, nil
}

// ResolveMoneyAccount returns the ledger account linked to a bank or cash
// account, allocating the next free number under the type prefix when the
// link does not exist yet. The caller persists the link.
func (r *Resolver) ResolveMoneyAccount(ctx context.Context, tx TxRepository, ref MoneyAccountRef) (Account, error) {
	if ref.LedgerAccountID != nil && *ref.LedgerAccountID != 0 {
		return tx.GetAccount(ctx, *ref.LedgerAccountID)
	}
	prefix, err := PrefixFor(ref.Type)
	if err != nil {
		return Account{}, err
	}
	current, ok, err := tx.MaxAccountNumberWithPrefix(ctx, ref.CompanyID, prefix)
	if err != nil {
		return Account{}, err
	}
	number, err := nextTreasuryNumber(prefix, current, ok)
	if err != nil {
		return Account{}, err
	}
	label := ref.Name
	if label == "" {
		label = fmt.Sprintf("%s account %d", strings.ToLower(string(ref.Type)), ref.ID)
	}
	return r.ResolveByNumber(ctx, tx, ref.CompanyID, number, label)
}

// ResolveVATDeductible returns the VAT-recoverable-on-purchases account.
func (r *Resolver) ResolveVATDeductible(ctx context.Context, tx TxRepository, companyID int64) (Account, error) {
	return r.ResolveByNumber(ctx, tx, companyID, NumberVATDeductible, "VAT deductible on purchases")
}

// ResolveThirdParty returns the receivable (client) or payable (supplier) account of a party.
func (r *Resolver) ResolveThirdParty(ctx context.Context, tx TxRepository, companyID int64, party Party) (Account, error) {
	var prefix string
	switch party.Kind {
	case PartyClient:
		prefix = PrefixClients
	case PartySupplier:
		prefix = PrefixSuppliers
	default:
		return Account{}, shared.Invalid(fmt.Sprintf("accounts: unknown party kind %q", party.Kind))
	}
	if party.ID <= 0 {
		return Account{}, shared.Invalid("accounts: party id required")
	}
	number := fmt.Sprintf("%s%05d", prefix, party.ID)
	label := party.Name
	if label == "" {
		label = fmt.Sprintf("%s %d", strings.ToLower(string(party.Kind)), party.ID)
	}
	return r.ResolveByNumber(ctx, tx, companyID, number, label)
}

// PrefixFor returns the ledger prefix of a money account type.
func PrefixFor(t MoneyAccountType) (string, error) {
	switch t {
	case MoneyAccountBank:
		return PrefixBank, nil
	case MoneyAccountCash:
		return PrefixCash, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMoneyAccountType, t)
	}
}

// nextTreasuryNumber steps by PrefixStep within a six digit range: 521100, 521200 … 521900.
func nextTreasuryNumber(prefix, current string, exists bool) (string, error) {
	if !exists {
		return prefix + "100", nil
	}
	suffix := strings.TrimPrefix(current, prefix)
	value, err := strconv.Atoi(suffix)
	if err != nil || len(suffix) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, current)
	}
	next := (value/PrefixStep + 1) * PrefixStep
	if next > 999 {
		return "", fmt.Errorf("%w: %s", ErrPrefixExhausted, prefix)
	}
	return fmt.Sprintf("%s%03d", prefix, next), nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
