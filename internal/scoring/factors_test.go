package scoring

import (
	"testing"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

func TestBreakdownImpacts(t *testing.T) {
	healthy := schema.FeatureVector{
		CreditUtilization: 12,
		PaymentHistory:    schema.PaymentSummary{Late: 0},
		AvgAccountAge:     9,
		AccountTypes: map[schema.AccountType]int{
			schema.AccountCreditCard: 2,
			schema.AccountLoan:       1,
		},
		NegativeItems: 0,
	}
	factors := Breakdown(healthy)
	if len(factors) != 5 {
		t.Fatalf("expected 5 factors, got %d", len(factors))
	}
	wantOrder := []string{"credit_utilization", "payment_history", "avg_account_age", "account_types", "negative_items"}
	for i, name := range wantOrder {
		if factors[i].Name != name {
			t.Fatalf("factor %d is %s, want %s", i, factors[i].Name, name)
		}
		if factors[i].Impact != ImpactPositive {
			t.Fatalf("healthy profile factor %s rated %s", name, factors[i].Impact)
		}
		if factors[i].Detail == "" || factors[i].Value == "" {
			t.Fatalf("factor %s missing narrative fields: %+v", name, factors[i])
		}
	}

	risky := schema.FeatureVector{
		CreditUtilization: 88,
		PaymentHistory:    schema.PaymentSummary{Late: 4},
		AvgAccountAge:     1.2,
		AccountTypes:      map[schema.AccountType]int{schema.AccountCreditCard: 1},
		NegativeItems:     3,
	}
	negatives := Negatives(Breakdown(risky))
	if len(negatives) != 5 {
		t.Fatalf("risky profile should rate negative on all factors, got %d", len(negatives))
	}
}

func TestBreakdownThresholdEdges(t *testing.T) {
	tests := []struct {
		name   string
		vec    schema.FeatureVector
		factor int
		want   string
	}{
		{"utilization 29 positive", schema.FeatureVector{CreditUtilization: 29}, 0, ImpactPositive},
		{"utilization 30 neutral", schema.FeatureVector{CreditUtilization: 30}, 0, ImpactNeutral},
		{"utilization 50 neutral", schema.FeatureVector{CreditUtilization: 50}, 0, ImpactNeutral},
		{"utilization 51 negative", schema.FeatureVector{CreditUtilization: 51}, 0, ImpactNegative},
		{"one late negative", schema.FeatureVector{PaymentHistory: schema.PaymentSummary{Late: 1}}, 1, ImpactNegative},
		{"age 7 positive", schema.FeatureVector{AvgAccountAge: 7}, 2, ImpactPositive},
		{"age 3 neutral", schema.FeatureVector{AvgAccountAge: 3}, 2, ImpactNeutral},
		{"age 2.9 negative", schema.FeatureVector{AvgAccountAge: 2.9}, 2, ImpactNegative},
		{"one negative item", schema.FeatureVector{NegativeItems: 1}, 4, ImpactNegative},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			factors := Breakdown(tc.vec)
			if got := factors[tc.factor].Impact; got != tc.want {
				t.Fatalf("impact %s, want %s", got, tc.want)
			}
		})
	}
}
