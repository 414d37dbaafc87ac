package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/krishkpatil/CreditUdaan/internal/scoring"
)

// Knowledge holds the curated content the deterministic explainer draws on.
// Content is keyed by score band so operators can tune the copy per segment
// without a rebuild.
type Knowledge struct {
	BandSummaries map[string]string   `json:"band_summaries"`
	ActionSteps   map[string][]string `json:"action_steps"`
	FAQ           []string            `json:"faq"`
}

var knowledgeBands = []string{
	string(scoring.BandPoor),
	string(scoring.BandFair),
	string(scoring.BandGood),
	string(scoring.BandVeryGood),
	string(scoring.BandExcellent),
}

// Validate ensures the knowledge base covers every band.
func (k Knowledge) Validate() error {
	for _, band := range knowledgeBands {
		if strings.TrimSpace(k.BandSummaries[band]) == "" {
			return fmt.Errorf("band summary missing for %q", band)
		}
		if len(k.ActionSteps[band]) == 0 {
			return fmt.Errorf("action steps missing for %q", band)
		}
	}
	if len(k.FAQ) < 3 {
		return errors.New("knowledge needs at least 3 faq entries")
	}
	return nil
}

// Templates renders complete analyses from the knowledge base and the scored
// profile alone. It backs every field the remote explainer can fail to
// produce, so an analysis is never returned with holes.
type Templates struct {
	knowledge Knowledge
}

// NewTemplates constructs a template explainer from validated knowledge.
func NewTemplates(k Knowledge) (*Templates, error) {
	if err := k.Validate(); err != nil {
		return nil, fmt.Errorf("invalid knowledge: %w", err)
	}
	return &Templates{knowledge: k}, nil
}

// LoadTemplates reads a knowledge file, falling back to the compiled-in
// content when no path is configured.
func LoadTemplates(path string) (*Templates, error) {
	if strings.TrimSpace(path) == "" {
		return NewTemplates(DefaultKnowledge())
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read knowledge: %w", err)
	}
	var k Knowledge
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("unmarshal knowledge: %w", err)
	}
	return NewTemplates(k)
}

// Enabled reports that the template explainer is always available.
func (t *Templates) Enabled() bool {
	return t != nil
}

// Explain satisfies Explainer with a fully deterministic analysis.
func (t *Templates) Explain(_ context.Context, input ExplanationInput) (Analysis, error) {
	if t == nil {
		return Analysis{}, ErrDisabled
	}
	return t.Build(input), nil
}

// Build assembles a complete analysis for the scored profile. Every contract
// field is populated.
func (t *Templates) Build(input ExplanationInput) Analysis {
	band := string(input.Band)
	if band == "" {
		band = string(scoring.BandFor(input.ModelScore))
	}

	analysis := Analysis{
		DetailedAnalysis:  t.detailedAnalysis(band, input),
		ImprovementAdvice: improvementAdvice(input),
		ActionSteps:       t.actionSteps(band, input),
		NegativeItemPlans: negativeItemPlans(input.Features.NegativeItems),
		Roadmap90Days:     roadmap(input),
		ApprovalAdvice:    approvalAdvice(input),
		FAQ:               append([]string(nil), t.knowledge.FAQ...),
	}
	sanitizeAnalysis(&analysis, input)
	return analysis
}

// Fill completes the named fields of a partial analysis and re-pins the
// numeric echoes. Fields the remote explainer did produce are left alone.
func (t *Templates) Fill(partial Analysis, input ExplanationInput, missing []string) Analysis {
	built := t.Build(input)
	for _, field := range missing {
		switch field {
		case "detailed_analysis":
			partial.DetailedAnalysis = built.DetailedAnalysis
		case "improvement_advice":
			partial.ImprovementAdvice = built.ImprovementAdvice
		case "action_steps":
			partial.ActionSteps = built.ActionSteps
		case "negative_item_plans":
			partial.NegativeItemPlans = built.NegativeItemPlans
		case "roadmap_90_days":
			partial.Roadmap90Days = built.Roadmap90Days
		case "approval_advice":
			partial.ApprovalAdvice = built.ApprovalAdvice
		case "faq":
			partial.FAQ = built.FAQ
		}
	}
	sanitizeAnalysis(&partial, input)
	return partial
}

func (t *Templates) detailedAnalysis(band string, input ExplanationInput) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Your score of %d places you in the %s band. ", input.ModelScore, strings.ReplaceAll(band, "_", " "))
	builder.WriteString(t.knowledge.BandSummaries[band])

	negatives := scoring.Negatives(input.Factors)
	if len(negatives) == 0 {
		builder.WriteString(" No single factor is holding your score back right now; the profile is balanced across utilization, payment history, and account age.")
		return builder.String()
	}
	builder.WriteString(" The main pressure points: ")
	details := make([]string, 0, len(negatives))
	for _, factor := range negatives {
		details = append(details, factor.Detail)
	}
	builder.WriteString(strings.Join(details, " "))
	return builder.String()
}

func improvementAdvice(input ExplanationInput) string {
	negatives := scoring.Negatives(input.Factors)
	if len(negatives) == 0 {
		return "Your profile has no weak factor to fix. Protect what is working: keep utilization low, keep autopay on, and let your accounts age undisturbed."
	}
	names := make([]string, 0, len(negatives))
	for _, factor := range negatives {
		names = append(names, strings.ReplaceAll(factor.Name, "_", " "))
	}
	lead := names[0]
	if len(names) == 1 {
		return fmt.Sprintf("Concentrate on %s first; it is the one factor working against you, and the score will follow once it turns.", lead)
	}
	return fmt.Sprintf("Start with %s, the heaviest drag on this profile, then work through %s. Fixing them in that order front-loads the score gains.", lead, strings.Join(names[1:], ", "))
}

func (t *Templates) actionSteps(band string, input ExplanationInput) []string {
	steps := personalSteps(input)
	steps = append(steps, t.knowledge.ActionSteps[band]...)
	for _, generic := range genericSteps {
		if len(steps) >= 5 {
			break
		}
		steps = append(steps, generic)
	}
	return steps
}

func personalSteps(input ExplanationInput) []string {
	f := input.Features
	var steps []string
	switch {
	case f.CreditUtilization > 50:
		steps = append(steps, fmt.Sprintf("Cut your %.1f%% utilization below 30%% by paying down the highest-balance card first; this single move has the fastest score payoff.", f.CreditUtilization))
	case f.CreditUtilization > 30:
		steps = append(steps, fmt.Sprintf("Nudge your %.1f%% utilization under 30%% with one or two extra payments this cycle.", f.CreditUtilization))
	}
	if f.PaymentHistory.Late > 0 {
		steps = append(steps, fmt.Sprintf("Bring every account current and turn on autopay; the %d late payments on file are the drag to stop compounding.", f.PaymentHistory.Late))
	}
	if f.NegativeItems > 0 {
		steps = append(steps, fmt.Sprintf("Pull your full report and work the %d negative items one at a time, newest first; each removal or settlement lifts the score.", f.NegativeItems))
	}
	if f.AvgAccountAge < 3 {
		steps = append(steps, fmt.Sprintf("Keep your oldest account open and active; at %.1f years of average age, every closed line sets the clock back.", f.AvgAccountAge))
	}
	if f.TotalAccounts() < 2 {
		steps = append(steps, "Thicken your file with one additional credit type over time, such as a small installment line kept at a low balance.")
	}
	return steps
}

func negativeItemPlans(count int) []string {
	if count <= 0 {
		return []string{"No negative items are on your report. Keep autopay on and review your report each quarter so none appear unnoticed."}
	}
	plans := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		body := planBodies[(i-1)%len(planBodies)]
		plans = append(plans, fmt.Sprintf("Negative item %d: %s", i, body))
	}
	return plans
}

var planBodies = []string{
	"request debt validation in writing within 30 days, dispute any inaccuracy with the bureau, and only discuss payment once the debt is verified.",
	"if the record is accurate, negotiate a pay-for-delete or a settlement letter before sending money, and keep every agreement in writing.",
	"after resolution, confirm the bureau updates the entry within two reporting cycles and escalate with a follow-up dispute if it lingers.",
}

var genericSteps = []string{
	"Review your full credit report for errors and dispute anything you do not recognize.",
	"Set calendar reminders a week before each due date as a backstop to autopay.",
	"Keep total balances trending down month over month, even when the score already looks healthy.",
	"Avoid opening several new accounts in a short window; space applications at least six months apart.",
	"Recheck your score monthly so you catch reversals early instead of at application time.",
}

func roadmap(input ExplanationInput) []string {
	f := input.Features
	first := "Days 1-30: pull reports from every bureau, file disputes for anything inaccurate, and put all accounts on autopay."
	if f.PaymentHistory.Late > 0 {
		first = fmt.Sprintf("Days 1-30: bring the %d past-due payments current, put every account on autopay, and pull reports from all bureaus to file disputes.", f.PaymentHistory.Late)
	}
	second := "Days 31-60: keep utilization trending down with mid-cycle payments and follow up on every open dispute in writing."
	if f.CreditUtilization > 30 {
		second = fmt.Sprintf("Days 31-60: pay utilization down from %.1f%% toward 30%% with mid-cycle payments, and follow up on open disputes in writing.", f.CreditUtilization)
	}
	third := "Days 61-90: confirm the bureaus reflect every fix, recheck the score, and plan applications around your approval outlook."
	if f.NegativeItems > 0 {
		third = "Days 61-90: close out the remaining negative-item negotiations, confirm the bureaus reflect each fix, and recheck the score before any application."
	}
	return []string{first, second, third}
}

func approvalAdvice(input ExplanationInput) string {
	if strings.TrimSpace(input.Outlook.Advice) != "" {
		return input.Outlook.Advice
	}
	return scoring.ApprovalFor(input.ModelScore, input.Features).Advice
}

// DefaultKnowledge returns the compiled-in knowledge base.
func DefaultKnowledge() Knowledge {
	return Knowledge{
		BandSummaries: map[string]string{
			string(scoring.BandPoor):      "Scores in this range signal serious repayment risk to lenders, and most unsecured products are out of reach until the record improves. The encouraging part is that scores here respond quickly once balances fall and payments stay on time.",
			string(scoring.BandFair):      "Scores in this range sit below the typical approval bar for prime products, so lenders price in extra risk. Steady on-time payments and lower balances can move a fair score into good territory within a few reporting cycles.",
			string(scoring.BandGood):      "Scores in this range clear most lenders' baseline and qualify for mainstream products, though not yet at the best advertised rates. The gap to the next band usually closes by lowering utilization and letting accounts age.",
			string(scoring.BandVeryGood):  "Scores in this range comfortably exceed most approval thresholds and unlock competitive rates. Lenders read profiles here as reliably low risk.",
			string(scoring.BandExcellent): "Scores in this range are top tier. Lenders compete for borrowers here, so the leverage in rate negotiations sits with you.",
		},
		ActionSteps: map[string][]string{
			string(scoring.BandPoor): {
				"Bring every past-due account current before anything else; payment record is the heaviest factor on your report.",
				"Open a secured card with a small deposit to rebuild an on-time record without new debt risk.",
				"Ask one current lender for a goodwill adjustment on your oldest late mark.",
				"Hold off on new credit applications until the score stabilizes; each hard inquiry digs deeper.",
			},
			string(scoring.BandFair): {
				"Pay revolving balances below 30% of their limits, starting with the highest-utilization card.",
				"Automate at least the minimum payment on every account so no new late marks appear.",
				"Negotiate or dispute the most recent derogatory entry first; recent marks weigh most.",
			},
			string(scoring.BandGood): {
				"Push utilization under 10% before your next statement cuts to reach the next band.",
				"Keep your oldest accounts open and put a small recurring charge on any idle card.",
				"Request credit limit increases on well-aged cards; a higher limit lowers utilization without new debt.",
			},
			string(scoring.BandVeryGood): {
				"Hold utilization in the single digits and pay before the statement date when planning an application.",
				"Space any new applications at least six months apart to keep inquiries trivial.",
				"Review your report twice a year; at this level, errors cost more than habits do.",
			},
			string(scoring.BandExcellent): {
				"Change nothing structural; keep autopay on and utilization in the single digits.",
				"Use your standing to renegotiate rates on existing products rather than opening new ones.",
				"Monitor your report for identity errors; they are the main threat left at this level.",
			},
		},
		FAQ: []string{
			"Does checking my own credit score lower it? No. Pulling your own report is a soft inquiry and never affects the score; only applications for new credit create hard inquiries.",
			"Should I close old cards I no longer use? Usually not. Closing a card removes its limit from your utilization math and can shorten your average account age; keeping it open at a zero balance helps both.",
			"Do I need to carry a balance to build credit? No. Paying in full every month builds the same payment record and avoids interest; the carried-balance myth only costs you money.",
			"Will paying off a collection erase it from my report? Not automatically. Paid collections stay on file, though newer scoring models weigh them less; ask for a pay-for-delete agreement in writing before paying.",
			"Can a service add 100 points overnight? No legitimate one can. Scores move through reported behavior, and disputing accurate records wastes the window you could spend lowering balances.",
		},
	}
}
