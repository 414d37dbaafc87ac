package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// AccountType is a canonical account category from the closed vocabulary.
type AccountType string

const (
	AccountCreditCard AccountType = "credit_card"
	AccountLoan       AccountType = "loan"
	AccountMortgage   AccountType = "mortgage"
	AccountOther      AccountType = "other"
)

// AccountVocabulary returns the closed account-type vocabulary in canonical order.
func AccountVocabulary() []AccountType {
	return []AccountType{AccountCreditCard, AccountLoan, AccountMortgage, AccountOther}
}

const (
	// FeatureDim is the width of the numeric encoding produced by Vector.
	FeatureDim = 8

	// ScoreMin and ScoreMax bound the credit score scale. Every generated
	// label and every model output is clamped into this range.
	ScoreMin = 300
	ScoreMax = 900

	// utilizationMax allows a small overflow above 100% for over-limit accounts.
	utilizationMax = 105.0
	accountAgeMax  = 100.0
)

// Policy controls how unknown account-type labels are handled.
type Policy string

const (
	PolicyReject Policy = "reject"
	PolicyBucket Policy = "bucket"
)

// RawPaymentHistory mirrors the payment_history object of the input contract.
type RawPaymentHistory struct {
	Late *int `json:"late" validate:"required,min=0"`
}

// RawFeatures is the unvalidated feature payload handed over by the
// extraction layer. Pointer fields distinguish absent keys from zero values.
type RawFeatures struct {
	CreditUtilization *float64           `json:"credit_utilization" validate:"required,min=0,max=105"`
	PaymentHistory    *RawPaymentHistory `json:"payment_history" validate:"required"`
	AvgAccountAge     *float64           `json:"avg_account_age" validate:"required,min=0,max=100"`
	AccountTypes      map[string]int     `json:"account_types" validate:"omitempty,dive,min=0"`
	NegativeItems     *int               `json:"negative_items" validate:"required,min=0"`
}

// PaymentSummary is the validated payment_history object.
type PaymentSummary struct {
	Late int `json:"late"`
}

// FeatureVector is the canonical, validated credit-report summary consumed by
// the scoring model and echoed back in analysis payloads.
type FeatureVector struct {
	CreditUtilization float64             `json:"credit_utilization"`
	PaymentHistory    PaymentSummary      `json:"payment_history"`
	AvgAccountAge     float64             `json:"avg_account_age"`
	AccountTypes      map[AccountType]int `json:"account_types"`
	NegativeItems     int                 `json:"negative_items"`
}

// FeatureNames lists the encoded feature positions in the order Vector emits them.
func FeatureNames() []string {
	return []string{
		"credit_utilization",
		"late_payments",
		"avg_account_age",
		"negative_items",
		"credit_card_accounts",
		"loan_accounts",
		"mortgage_accounts",
		"other_accounts",
	}
}

// Vector encodes the feature vector into its fixed numeric layout.
func (f FeatureVector) Vector() []float64 {
	out := make([]float64, 0, FeatureDim)
	out = append(out,
		f.CreditUtilization,
		float64(f.PaymentHistory.Late),
		f.AvgAccountAge,
		float64(f.NegativeItems),
	)
	for _, account := range AccountVocabulary() {
		out = append(out, float64(f.AccountTypes[account]))
	}
	return out
}

// TotalAccounts sums the account counts across every category.
func (f FeatureVector) TotalAccounts() int {
	total := 0
	for _, count := range f.AccountTypes {
		total += count
	}
	return total
}

// ValidationError reports a single rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validator checks raw feature payloads against the schema contract.
type Validator struct {
	validate *validator.Validate
	policy   Policy
}

// NewValidator builds a Validator with the supplied unknown-label policy.
func NewValidator(policy Policy) (*Validator, error) {
	switch policy {
	case PolicyReject, PolicyBucket:
	case "":
		policy = PolicyReject
	default:
		return nil, fmt.Errorf("unknown account-type policy %q", policy)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate, policy: policy}, nil
}

// Policy exposes the configured unknown-label policy.
func (v *Validator) Policy() Policy {
	return v.policy
}

// Validate rejects out-of-domain payloads and returns the canonical vector.
func (v *Validator) Validate(raw RawFeatures) (FeatureVector, error) {
	if err := v.validate.Struct(&raw); err != nil {
		return FeatureVector{}, translateValidatorError(err)
	}

	if !isFinite(*raw.CreditUtilization) {
		return FeatureVector{}, &ValidationError{Field: "credit_utilization", Reason: "must be a finite number"}
	}
	if !isFinite(*raw.AvgAccountAge) {
		return FeatureVector{}, &ValidationError{Field: "avg_account_age", Reason: "must be a finite number"}
	}
	if raw.AccountTypes == nil {
		return FeatureVector{}, &ValidationError{Field: "account_types", Reason: "field is required"}
	}

	accounts := make(map[AccountType]int, len(raw.AccountTypes))
	for label, count := range raw.AccountTypes {
		canonical, known := NormalizeAccountType(label)
		if !known {
			if v.policy == PolicyReject {
				return FeatureVector{}, &ValidationError{
					Field:  "account_types",
					Reason: fmt.Sprintf("unknown account type %q", label),
				}
			}
			canonical = AccountOther
		}
		accounts[canonical] += count
	}

	return FeatureVector{
		CreditUtilization: *raw.CreditUtilization,
		PaymentHistory:    PaymentSummary{Late: *raw.PaymentHistory.Late},
		AvgAccountAge:     *raw.AvgAccountAge,
		AccountTypes:      accounts,
		NegativeItems:     *raw.NegativeItems,
	}, nil
}

func translateValidatorError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Reason: "field is required"}
	case "min":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at least %s", fe.Param())}
	case "max":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %s", fe.Param())}
	default:
		return &ValidationError{Field: field, Reason: fmt.Sprintf("failed %s check", fe.Tag())}
	}
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	if ns == "" {
		return fe.Field()
	}
	return ns
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
