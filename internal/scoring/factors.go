package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

// Impact classifies how a factor moves the score.
const (
	ImpactPositive = "positive"
	ImpactNeutral  = "neutral"
	ImpactNegative = "negative"
)

// Factor is one scored contributor to the profile's overall picture. The
// explanation layer leans on Detail when composing deterministic narratives.
type Factor struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Impact string `json:"impact"`
	Detail string `json:"detail"`
}

// Breakdown decomposes a validated profile into its rated factors, in a
// fixed presentation order.
func Breakdown(f schema.FeatureVector) []Factor {
	return []Factor{
		utilizationFactor(f.CreditUtilization),
		paymentFactor(f.PaymentHistory.Late),
		ageFactor(f.AvgAccountAge),
		mixFactor(f),
		negativesFactor(f.NegativeItems),
	}
}

// Negatives filters the breakdown down to the factors dragging the score.
func Negatives(factors []Factor) []Factor {
	var out []Factor
	for _, factor := range factors {
		if factor.Impact == ImpactNegative {
			out = append(out, factor)
		}
	}
	return out
}

func utilizationFactor(utilization float64) Factor {
	factor := Factor{
		Name:  "credit_utilization",
		Value: fmt.Sprintf("%.0f%%", utilization),
	}
	switch {
	case utilization < 30:
		factor.Impact = ImpactPositive
		factor.Detail = "Utilization below 30% signals balances well under control."
	case utilization <= 50:
		factor.Impact = ImpactNeutral
		factor.Detail = "Utilization between 30% and 50% is workable but leaves points on the table."
	default:
		factor.Impact = ImpactNegative
		factor.Detail = fmt.Sprintf("Utilization of %.0f%% reads as heavy reliance on revolving credit; lenders weight this second only to payment history.", utilization)
	}
	return factor
}

func paymentFactor(late int) Factor {
	factor := Factor{
		Name:  "payment_history",
		Value: fmt.Sprintf("%d late payments", late),
	}
	switch {
	case late == 0:
		factor.Impact = ImpactPositive
		factor.Detail = "A clean payment record is the strongest single driver of the score."
	case late <= 2:
		factor.Impact = ImpactNegative
		factor.Detail = fmt.Sprintf("%d late payments are recoverable, but each one lingers on the report for years.", late)
	default:
		factor.Impact = ImpactNegative
		factor.Detail = fmt.Sprintf("%d late payments form a pattern that lenders read as active repayment risk.", late)
	}
	return factor
}

func ageFactor(age float64) Factor {
	factor := Factor{
		Name:  "avg_account_age",
		Value: fmt.Sprintf("%.1f years", age),
	}
	switch {
	case age >= 7:
		factor.Impact = ImpactPositive
		factor.Detail = "A seasoned credit history gives lenders a long track record to price against."
	case age >= 3:
		factor.Impact = ImpactNeutral
		factor.Detail = "A mid-length history neither helps nor hurts much; it improves on its own as accounts age."
	default:
		factor.Impact = ImpactNegative
		factor.Detail = "A thin, young file gives scoring models little to work with; avoid closing your oldest account."
	}
	return factor
}

func mixFactor(f schema.FeatureVector) Factor {
	total := f.TotalAccounts()
	kinds := make([]string, 0, len(f.AccountTypes))
	for kind, count := range f.AccountTypes {
		if count > 0 {
			kinds = append(kinds, string(kind))
		}
	}
	sort.Strings(kinds)

	factor := Factor{
		Name:  "account_types",
		Value: fmt.Sprintf("%d accounts (%s)", total, strings.Join(kinds, ", ")),
	}
	switch {
	case total >= 3 && len(kinds) >= 2:
		factor.Impact = ImpactPositive
		factor.Detail = "A mix of revolving and installment accounts shows you can manage different kinds of credit."
	case total >= 2:
		factor.Impact = ImpactNeutral
		factor.Detail = "The account mix is serviceable; an installment line alongside cards would round it out."
	default:
		factor.Impact = ImpactNegative
		factor.Detail = "A single-account file limits the score's ceiling regardless of how well it is managed."
	}
	return factor
}

func negativesFactor(negatives int) Factor {
	factor := Factor{
		Name:  "negative_items",
		Value: fmt.Sprintf("%d items", negatives),
	}
	switch {
	case negatives == 0:
		factor.Impact = ImpactPositive
		factor.Detail = "No collections, charge-offs or public records on file."
	case negatives == 1:
		factor.Impact = ImpactNegative
		factor.Detail = "One negative item is weighing on the score; resolving or disputing it is the highest-value move available."
	default:
		factor.Impact = ImpactNegative
		factor.Detail = fmt.Sprintf("%d negative items compound each other; settle the most recent first since it carries the most weight.", negatives)
	}
	return factor
}
