package domain

import (
	"time"
)

// LoanApplication is the application + applicant snapshot a single
// evaluation reads. Every attribute the rule vocabulary exposes comes
// from here; the record is never mutated during evaluation.
type LoanApplication struct {
	ID string `json:"id"`

	// Loan terms
	Amount      int64  `json:"amount"`
	TermMonths  int64  `json:"termMonths"`
	ProductType string `json:"productType"`

	// Applicant financials. CreditScore is a pointer because bureaus
	// can return no score for thin-file applicants; conditions over a
	// missing score fail closed rather than erroring.
	CreditScore   *int64 `json:"creditScore,omitempty"`
	IncomeMonthly int64  `json:"incomeMonthly"`
	DebtToIncome  int64  `json:"debtToIncome"` // percentage, 0-100+
	ExistingLoans int64  `json:"existingLoans"`
	PriorDefaults int64  `json:"priorDefaults"`
	HasCollateral bool   `json:"hasCollateral"`

	// Applicant profile
	ApplicantAge    int64  `json:"applicantAge"`
	EmploymentType  string `json:"employmentType"`
	ResidencyStatus string `json:"residencyStatus"`

	// Provenance
	AffiliateID string    `json:"affiliateId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ApplicationRequest is the API payload for submitting an application.
type ApplicationRequest struct {
	Amount      int64  `json:"amount"`
	TermMonths  int64  `json:"termMonths"`
	ProductType string `json:"productType"`

	CreditScore   *int64 `json:"creditScore,omitempty"`
	IncomeMonthly int64  `json:"incomeMonthly"`
	DebtToIncome  int64  `json:"debtToIncome"`
	ExistingLoans int64  `json:"existingLoans"`
	PriorDefaults int64  `json:"priorDefaults"`
	HasCollateral bool   `json:"hasCollateral"`

	ApplicantAge    int64  `json:"applicantAge"`
	EmploymentType  string `json:"employmentType"`
	ResidencyStatus string `json:"residencyStatus"`

	AffiliateID string `json:"affiliateId,omitempty"`
}

// ToApplication converts a request into a LoanApplication record.
func (r *ApplicationRequest) ToApplication(id string) *LoanApplication {
	return &LoanApplication{
		ID:              id,
		Amount:          r.Amount,
		TermMonths:      r.TermMonths,
		ProductType:     r.ProductType,
		CreditScore:     r.CreditScore,
		IncomeMonthly:   r.IncomeMonthly,
		DebtToIncome:    r.DebtToIncome,
		ExistingLoans:   r.ExistingLoans,
		PriorDefaults:   r.PriorDefaults,
		HasCollateral:   r.HasCollateral,
		ApplicantAge:    r.ApplicantAge,
		EmploymentType:  r.EmploymentType,
		ResidencyStatus: r.ResidencyStatus,
		AffiliateID:     r.AffiliateID,
		CreatedAt:       time.Now().UTC(),
	}
}
