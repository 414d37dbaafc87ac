package scoring

import (
	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

// Band is a named range of the credit score scale.
type Band string

const (
	BandPoor      Band = "poor"
	BandFair      Band = "fair"
	BandGood      Band = "good"
	BandVeryGood  Band = "very_good"
	BandExcellent Band = "excellent"
)

// BandFor maps a score onto its band. Thresholds follow the conventional
// consumer-credit cut points.
func BandFor(score int) Band {
	switch {
	case score < 580:
		return BandPoor
	case score < 670:
		return BandFair
	case score < 740:
		return BandGood
	case score < 800:
		return BandVeryGood
	default:
		return BandExcellent
	}
}

// ApprovalOutlook is the lender-facing read of a scored profile.
type ApprovalOutlook struct {
	Likelihood string `json:"likelihood"`
	Advice     string `json:"advice"`
}

// ApprovalFor merges the score band with the profile's risk signals. Recent
// payment trouble or open negative items cap the outlook one level below
// what the band alone would say.
func ApprovalFor(score int, f schema.FeatureVector) ApprovalOutlook {
	band := BandFor(score)

	likelihood := "low"
	switch band {
	case BandExcellent, BandVeryGood:
		likelihood = "strong"
	case BandGood:
		likelihood = "good"
	case BandFair:
		likelihood = "moderate"
	}

	troubled := f.PaymentHistory.Late >= 3 || f.NegativeItems >= 2
	if troubled {
		switch likelihood {
		case "strong":
			likelihood = "good"
		case "good":
			likelihood = "moderate"
		case "moderate":
			likelihood = "low"
		}
	}

	return ApprovalOutlook{
		Likelihood: likelihood,
		Advice:     approvalAdvice(likelihood, troubled),
	}
}

func approvalAdvice(likelihood string, troubled bool) string {
	switch likelihood {
	case "strong":
		return "You are well positioned for approval on most credit products at favorable rates. Compare offers before applying and keep utilization where it is."
	case "good":
		if troubled {
			return "Mainstream approvals are within reach, but recent payment issues may surface in manual review. Resolve open items before applying for large credit lines."
		}
		return "Approval odds are solid for mainstream products. A few more months of on-time payments would unlock better pricing tiers."
	case "moderate":
		return "Approvals are possible but likely at higher rates or lower limits. Consider secured products or a co-signer for larger loans, and reapply after your utilization drops."
	default:
		return "New applications are likely to be declined right now and each one adds a hard inquiry. Focus on bringing accounts current and reducing balances before applying again."
	}
}
