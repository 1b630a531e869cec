package accounts

import "time"

// Account models a chart of accounts node. Numbers are unique per company.
type Account struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Number    string    `json:"number"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Class returns the chart-of-accounts class digit of the account.
func (a Account) Class() byte {
	return ClassOf(a.Number)
}

// MoneyAccountType distinguishes bank from cash holdings.
type MoneyAccountType string

const (
	MoneyAccountBank MoneyAccountType = "BANK"
	MoneyAccountCash MoneyAccountType = "CASH"
)

// Ledger number prefixes for treasury accounts.
const (
	PrefixBank = "521"
	PrefixCash = "571"
	// PrefixStep is the gap between two generated treasury accounts.
	PrefixStep = 100
)

// Well-known accounts resolved on demand.
const (
	NumberVATDeductible = "445200"
	PrefixClients       = "411"
	PrefixSuppliers     = "401"
)

// MoneyAccountRef carries what the resolver needs to know about a bank or cash account.
type MoneyAccountRef struct {
	ID              int64
	CompanyID       int64
	Type            MoneyAccountType
	Name            string
	LedgerAccountID *int64
}

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	PartyClient   PartyKind = "CLIENT"
	PartySupplier PartyKind = "SUPPLIER"
)

// Party identifies a third party owning a receivable or payable account.
type Party struct {
	Kind PartyKind
	ID   int64
	Name string
}

// ClassOf returns the leading digit of an account number, or 0 when absent.
func ClassOf(number string) byte {
	if number == "" || number[0] < '0' || number[0] > '9' {
		return 0
	}
	return number[0]
}
