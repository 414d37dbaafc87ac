package ai

import (
	"fmt"
	"strings"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
	"github.com/krishkpatil/CreditUdaan/internal/scoring"
)

// PaymentHistory mirrors the payment_history object of the analysis contract.
type PaymentHistory struct {
	Late int `json:"late"`
}

// Analysis is the strict explanation contract: thirteen fields, all always
// present in a final response. The numeric fields echo the authoritative
// model output and extracted features; the narrative fields come from the
// language model or, field by field, from deterministic templates.
type Analysis struct {
	CreditScore       int            `json:"credit_score"`
	CreditUtilization float64        `json:"credit_utilization"`
	PaymentHistory    PaymentHistory `json:"payment_history"`
	AvgAccountAge     float64        `json:"avg_account_age"`
	AccountTypes      map[string]int `json:"account_types"`
	NegativeItems     int            `json:"negative_items"`
	DetailedAnalysis  string         `json:"detailed_analysis"`
	ImprovementAdvice string         `json:"improvement_advice"`
	ActionSteps       []string       `json:"action_steps"`
	NegativeItemPlans []string       `json:"negative_item_plans"`
	Roadmap90Days     []string       `json:"roadmap_90_days"`
	ApprovalAdvice    string         `json:"approval_advice"`
	FAQ               []string       `json:"faq"`
}

// narrativeFields lists the contract fields the language model is
// responsible for, in contract order.
var narrativeFields = []string{
	"detailed_analysis",
	"improvement_advice",
	"action_steps",
	"negative_item_plans",
	"roadmap_90_days",
	"approval_advice",
	"faq",
}

// MissingFields returns the narrative fields that are still empty. The
// numeric echo fields never appear here since sanitization always sets them.
func (a *Analysis) MissingFields() []string {
	var missing []string
	for _, field := range narrativeFields {
		switch field {
		case "detailed_analysis":
			if strings.TrimSpace(a.DetailedAnalysis) == "" {
				missing = append(missing, field)
			}
		case "improvement_advice":
			if strings.TrimSpace(a.ImprovementAdvice) == "" {
				missing = append(missing, field)
			}
		case "action_steps":
			if len(a.ActionSteps) == 0 {
				missing = append(missing, field)
			}
		case "negative_item_plans":
			if len(a.NegativeItemPlans) == 0 {
				missing = append(missing, field)
			}
		case "roadmap_90_days":
			if len(a.Roadmap90Days) == 0 {
				missing = append(missing, field)
			}
		case "approval_advice":
			if strings.TrimSpace(a.ApprovalAdvice) == "" {
				missing = append(missing, field)
			}
		case "faq":
			if len(a.FAQ) == 0 {
				missing = append(missing, field)
			}
		}
	}
	return missing
}

// IncompleteError reports a parseable response that left contract fields
// empty. The partial analysis travels alongside so callers can fill the gaps
// instead of discarding usable narrative.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("analysis incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// ExplanationInput carries everything the explanation layer may reference:
// the validated features, the model's score and the deterministic read of
// both. Group labels never appear here.
type ExplanationInput struct {
	Features   schema.FeatureVector
	ModelScore int
	Band       scoring.Band
	Outlook    scoring.ApprovalOutlook
	Factors    []scoring.Factor
}

// accountTypesMap converts the canonical account map into the wire shape.
func accountTypesMap(f schema.FeatureVector) map[string]int {
	out := make(map[string]int, len(f.AccountTypes))
	for kind, count := range f.AccountTypes {
		out[string(kind)] = count
	}
	return out
}
