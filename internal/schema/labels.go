package schema

import (
	"regexp"
	"strings"
)

var labelCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// accountAliases maps cleaned label spellings onto the closed vocabulary.
// Keys are lowercased with separators stripped, so "Credit Card", "credit-card"
// and "creditcard" all resolve to the same entry.
var accountAliases = map[string]AccountType{
	"creditcard":      AccountCreditCard,
	"creditcards":     AccountCreditCard,
	"card":            AccountCreditCard,
	"cards":           AccountCreditCard,
	"cc":              AccountCreditCard,
	"chargecard":      AccountCreditCard,
	"revolving":       AccountCreditCard,
	"revolvingcredit": AccountCreditCard,
	"loan":            AccountLoan,
	"loans":           AccountLoan,
	"personalloan":    AccountLoan,
	"autoloan":        AccountLoan,
	"carloan":         AccountLoan,
	"vehicleloan":     AccountLoan,
	"studentloan":     AccountLoan,
	"educationloan":   AccountLoan,
	"consumerloan":    AccountLoan,
	"installmentloan": AccountLoan,
	"goldloan":        AccountLoan,
	"mortgage":        AccountMortgage,
	"mortgages":       AccountMortgage,
	"homeloan":        AccountMortgage,
	"housingloan":     AccountMortgage,
	"homeequity":      AccountMortgage,
	"heloc":           AccountMortgage,
	"other":           AccountOther,
	"others":          AccountOther,
	"misc":            AccountOther,
	"miscellaneous":   AccountOther,
	"overdraft":       AccountOther,
}

// NormalizeAccountType resolves a raw account-type label to the closed
// vocabulary. The boolean reports whether the label was recognized.
func NormalizeAccountType(label string) (AccountType, bool) {
	cleaned := labelCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "")
	if cleaned == "" {
		return AccountOther, false
	}
	if canonical, ok := accountAliases[cleaned]; ok {
		return canonical, true
	}
	return AccountOther, false
}
