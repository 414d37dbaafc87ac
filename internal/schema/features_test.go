package schema

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func validRaw() RawFeatures {
	return RawFeatures{
		CreditUtilization: floatPtr(42.5),
		PaymentHistory:    &RawPaymentHistory{Late: intPtr(1)},
		AvgAccountAge:     floatPtr(6.2),
		AccountTypes:      map[string]int{"credit_card": 2, "loan": 1},
		NegativeItems:     intPtr(0),
	}
}

func TestValidateAcceptsCanonicalPayload(t *testing.T) {
	v, err := NewValidator(PolicyReject)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	vec, err := v.Validate(validRaw())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if vec.CreditUtilization != 42.5 {
		t.Fatalf("expected utilization 42.5 got %v", vec.CreditUtilization)
	}
	if vec.PaymentHistory.Late != 1 {
		t.Fatalf("expected 1 late payment got %d", vec.PaymentHistory.Late)
	}
	if vec.AccountTypes[AccountCreditCard] != 2 || vec.AccountTypes[AccountLoan] != 1 {
		t.Fatalf("unexpected account map %v", vec.AccountTypes)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RawFeatures)
		field   string
	}{
		{"missing utilization", func(r *RawFeatures) { r.CreditUtilization = nil }, "credit_utilization"},
		{"utilization over ceiling", func(r *RawFeatures) { r.CreditUtilization = floatPtr(140) }, "credit_utilization"},
		{"negative utilization", func(r *RawFeatures) { r.CreditUtilization = floatPtr(-3) }, "credit_utilization"},
		{"missing payment history", func(r *RawFeatures) { r.PaymentHistory = nil }, "payment_history"},
		{"missing late count", func(r *RawFeatures) { r.PaymentHistory = &RawPaymentHistory{} }, "payment_history.late"},
		{"negative late count", func(r *RawFeatures) { r.PaymentHistory = &RawPaymentHistory{Late: intPtr(-1)} }, "payment_history.late"},
		{"account age too large", func(r *RawFeatures) { r.AvgAccountAge = floatPtr(250) }, "avg_account_age"},
		{"missing account types", func(r *RawFeatures) { r.AccountTypes = nil }, "account_types"},
		{"negative account count", func(r *RawFeatures) { r.AccountTypes = map[string]int{"loan": -2} }, "account_types"},
		{"missing negative items", func(r *RawFeatures) { r.NegativeItems = nil }, "negative_items"},
		{"negative negative items", func(r *RawFeatures) { r.NegativeItems = intPtr(-4) }, "negative_items"},
		{"unknown account label", func(r *RawFeatures) { r.AccountTypes = map[string]int{"yacht_lease": 1} }, "account_types"},
	}

	v, err := NewValidator(PolicyReject)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mutate(&raw)
			_, err := v.Validate(raw)
			if err == nil {
				t.Fatalf("expected rejection")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError got %T: %v", err, err)
			}
			if !strings.HasPrefix(verr.Field, tc.field) {
				t.Fatalf("expected field %s got %s", tc.field, verr.Field)
			}
		})
	}
}

func TestValidateRejectsNonFiniteFloats(t *testing.T) {
	v, err := NewValidator(PolicyReject)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	raw := validRaw()
	raw.CreditUtilization = floatPtr(math.NaN())
	if _, err := v.Validate(raw); err == nil {
		t.Fatalf("expected NaN utilization to be rejected")
	}
}

func TestBucketPolicyFoldsUnknownLabels(t *testing.T) {
	v, err := NewValidator(PolicyBucket)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	raw := validRaw()
	raw.AccountTypes = map[string]int{"Credit Card": 1, "yacht_lease": 2, "store-card": 1}
	vec, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if vec.AccountTypes[AccountCreditCard] != 1 {
		t.Fatalf("expected alias to resolve to credit_card, got %v", vec.AccountTypes)
	}
	if vec.AccountTypes[AccountOther] != 3 {
		t.Fatalf("expected unknown labels bucketed into other, got %v", vec.AccountTypes)
	}
}

func TestNormalizeAccountType(t *testing.T) {
	tests := []struct {
		label    string
		expected AccountType
		known    bool
	}{
		{"credit_card", AccountCreditCard, true},
		{"Credit Card", AccountCreditCard, true},
		{"CREDIT-CARDS", AccountCreditCard, true},
		{"home loan", AccountMortgage, true},
		{"HELOC", AccountMortgage, true},
		{"auto loan", AccountLoan, true},
		{"overdraft", AccountOther, true},
		{"timeshare", AccountOther, false},
		{"", AccountOther, false},
	}
	for _, tc := range tests {
		t.Run(tc.label, func(t *testing.T) {
			got, known := NormalizeAccountType(tc.label)
			if got != tc.expected || known != tc.known {
				t.Fatalf("expected (%s,%v) got (%s,%v)", tc.expected, tc.known, got, known)
			}
		})
	}
}

func TestVectorLayout(t *testing.T) {
	vec := FeatureVector{
		CreditUtilization: 55,
		PaymentHistory:    PaymentSummary{Late: 3},
		AvgAccountAge:     4.5,
		AccountTypes: map[AccountType]int{
			AccountCreditCard: 2,
			AccountMortgage:   1,
		},
		NegativeItems: 1,
	}

	values := vec.Vector()
	if len(values) != FeatureDim {
		t.Fatalf("expected %d values got %d", FeatureDim, len(values))
	}
	expected := []float64{55, 3, 4.5, 1, 2, 0, 1, 0}
	for i, want := range expected {
		if values[i] != want {
			t.Fatalf("position %d: expected %v got %v", i, want, values[i])
		}
	}
	if len(FeatureNames()) != FeatureDim {
		t.Fatalf("feature names out of sync with vector layout")
	}
}
