package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledgertest"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
)

func TestResolveByNumberCreatesOnce(t *testing.T) {
	store := ledgertest.NewStore()
	resolver := accounts.NewResolver(nil)

	first, err := resolver.ResolveByNumber(context.Background(), store, 1, "661100", "Salaries")
	require.NoError(t, err)
	second, err := resolver.ResolveByNumber(context.Background(), store, 1, "661100", "ignored")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Salaries", second.Label)
	require.Len(t, store.Accounts(), 1)

	_, err = resolver.ResolveByNumber(context.Background(), store, 1, "66A", "")
	require.ErrorIs(t, err, accounts.ErrInvalidNumber)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestResolveMoneyAccountAllocatesStepped(t *testing.T) {
	store := ledgertest.NewStore()
	resolver := accounts.NewResolver(nil)
	ctx := context.Background()

	bank1, err := resolver.ResolveMoneyAccount(ctx, store, accounts.MoneyAccountRef{ID: 1, CompanyID: 1, Type: accounts.MoneyAccountBank, Name: "Main bank"})
	require.NoError(t, err)
	require.Equal(t, "521100", bank1.Number)

	bank2, err := resolver.ResolveMoneyAccount(ctx, store, accounts.MoneyAccountRef{ID: 2, CompanyID: 1, Type: accounts.MoneyAccountBank})
	require.NoError(t, err)
	require.Equal(t, "521200", bank2.Number)

	cash, err := resolver.ResolveMoneyAccount(ctx, store, accounts.MoneyAccountRef{ID: 3, CompanyID: 1, Type: accounts.MoneyAccountCash})
	require.NoError(t, err)
	require.Equal(t, "571100", cash.Number)

	linked, err := resolver.ResolveMoneyAccount(ctx, store, accounts.MoneyAccountRef{ID: 1, CompanyID: 1, Type: accounts.MoneyAccountBank, LedgerAccountID: &bank1.ID})
	require.NoError(t, err)
	require.Equal(t, bank1.ID, linked.ID)

	otherCompany, err := resolver.ResolveMoneyAccount(ctx, store, accounts.MoneyAccountRef{ID: 9, CompanyID: 2, Type: accounts.MoneyAccountBank})
	require.NoError(t, err)
	require.Equal(t, "521100", otherCompany.Number)
}

func TestResolveMoneyAccountExhaustsPrefix(t *testing.T) {
	store := ledgertest.NewStore()
	store.SeedAccount(1, "571900", "Last till")
	_, err := accounts.NewResolver(nil).ResolveMoneyAccount(context.Background(), store, accounts.MoneyAccountRef{ID: 1, CompanyID: 1, Type: accounts.MoneyAccountCash})
	require.ErrorIs(t, err, accounts.ErrPrefixExhausted)

	_, err = accounts.NewResolver(nil).ResolveMoneyAccount(context.Background(), store, accounts.MoneyAccountRef{ID: 1, CompanyID: 1, Type: "SAFE"})
	require.ErrorIs(t, err, accounts.ErrUnknownMoneyAccountType)
}

func TestResolveThirdPartyAndVAT(t *testing.T) {
	store := ledgertest.NewStore()
	resolver := accounts.NewResolver(nil)
	ctx := context.Background()

	client, err := resolver.ResolveThirdParty(ctx, store, 1, accounts.Party{Kind: accounts.PartyClient, ID: 42, Name: "Acme"})
	require.NoError(t, err)
	require.Equal(t, "41100042", client.Number)
	require.Equal(t, byte('4'), client.Class())

	supplier, err := resolver.ResolveThirdParty(ctx, store, 1, accounts.Party{Kind: accounts.PartySupplier, ID: 7})
	require.NoError(t, err)
	require.Equal(t, "40100007", supplier.Number)

	_, err = resolver.ResolveThirdParty(ctx, store, 1, accounts.Party{Kind: accounts.PartyClient})
	require.ErrorIs(t, err, shared.ErrValidation)

	vat, err := resolver.ResolveVATDeductible(ctx, store, 1)
	require.NoError(t, err)
	require.Equal(t, accounts.NumberVATDeductible, vat.Number)
}
