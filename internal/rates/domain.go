package rates

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicos/backoffice/internal/shared"
)

// Scope partitions rate rules by service line.
type Scope string

const (
	ScopeOPD  Scope = "OPD"
	ScopeLAB  Scope = "LAB"
	ScopeDIAG Scope = "DIAG"
	ScopeIPD  Scope = "IPD"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOPD, ScopeLAB, ScopeDIAG, ScopeIPD:
		return true
	}
	return false
}

// RuleType names what a rule's ReferenceID points at.
type RuleType string

const (
	RuleTypeDefault     RuleType = "default"
	RuleTypeDepartment  RuleType = "department"
	RuleTypeDoctor      RuleType = "doctor"
	RuleTypeTest        RuleType = "test"
	RuleTypeTestGroup   RuleType = "testGroup"
	RuleTypeProcedure   RuleType = "procedure"
	RuleTypeService     RuleType = "service"
	RuleTypeBedCategory RuleType = "bedCategory"
)

// VisitType narrows OPD rules to first or repeat consultations.
type VisitType string

const (
	VisitAny      VisitType = "any"
	VisitNew      VisitType = "new"
	VisitFollowup VisitType = "followup"
)

// Mode selects how a rule's value turns the default price into a corporate price.
type Mode string

const (
	ModeNone            Mode = "none"
	ModeFixedPrice      Mode = "fixedPrice"
	ModePercentDiscount Mode = "percentDiscount"
	ModeFixedDiscount   Mode = "fixedDiscount"
)

// DefaultPriority applies to rules stored without an explicit priority.
const DefaultPriority = 100

// Rule is a scoped pricing override. Lower Priority wins.
type Rule struct {
	ID            uuid.UUID       `json:"id"`
	CompanyID     uuid.UUID       `json:"company_id"`
	Scope         Scope           `json:"scope"`
	RuleType      RuleType        `json:"rule_type"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	VisitType     VisitType       `json:"visit_type,omitempty"`
	Mode          Mode            `json:"mode"`
	Value         decimal.Decimal `json:"value"`
	Priority      int             `json:"priority"`
	EffectiveFrom *time.Time      `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EffectiveAt reports whether t falls inside the rule window. Bounds are
// inclusive and a nil bound is open.
func (r Rule) EffectiveAt(t time.Time) bool {
	if r.EffectiveFrom != nil && t.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && t.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// Candidate is one specificity level the caller wants considered.
type Candidate struct {
	RuleType    RuleType `json:"rule_type" validate:"required"`
	ReferenceID string   `json:"reference_id"`
}

// Request asks for the corporate price of one billable item.
type Request struct {
	CompanyID    uuid.UUID
	Scope        Scope
	Candidates   []Candidate
	VisitType    VisitType
	DefaultPrice decimal.Decimal
	AsOf         time.Time
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.CompanyID == uuid.Nil {
		return ErrCompanyRequired
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, r.Scope)
	}
	if r.DefaultPrice.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

// Result carries the resolved price. AppliedRuleID is empty and Mode is
// ModeNone when no rule matched.
type Result struct {
	Price         decimal.Decimal `json:"price"`
	AppliedRuleID string          `json:"applied_rule_id"`
	Mode          Mode            `json:"mode"`
	Value         decimal.Decimal `json:"value"`
}

// IPDItemType identifies the kind of inpatient charge being priced.
type IPDItemType string

const (
	IPDItemBed       IPDItemType = "bed"
	IPDItemProcedure IPDItemType = "procedure"
	IPDItemService   IPDItemType = "service"
)

// OPDCandidates ranks doctor then department; default is appended by the resolver.
func OPDCandidates(doctorID, departmentID string) []Candidate {
	var out []Candidate
	if doctorID != "" {
		out = append(out, Candidate{RuleType: RuleTypeDoctor, ReferenceID: doctorID})
	}
	if departmentID != "" {
		out = append(out, Candidate{RuleType: RuleTypeDepartment, ReferenceID: departmentID})
	}
	return out
}

// TestCandidates ranks the test then its group for LAB and DIAG items.
func TestCandidates(testID, testGroupID string) []Candidate {
	var out []Candidate
	if testID != "" {
		out = append(out, Candidate{RuleType: RuleTypeTest, ReferenceID: testID})
	}
	if testGroupID != "" {
		out = append(out, Candidate{RuleType: RuleTypeTestGroup, ReferenceID: testGroupID})
	}
	return out
}

// IPDCandidates maps an inpatient item to its rule type.
func IPDCandidates(item IPDItemType, referenceID string) []Candidate {
	if referenceID == "" {
		return nil
	}
	switch item {
	case IPDItemBed:
		return []Candidate{{RuleType: RuleTypeBedCategory, ReferenceID: referenceID}}
	case IPDItemProcedure:
		return []Candidate{{RuleType: RuleTypeProcedure, ReferenceID: referenceID}}
	case IPDItemService:
		return []Candidate{{RuleType: RuleTypeService, ReferenceID: referenceID}}
	}
	return nil
}

var (
	// ErrCompanyRequired indicates a request without a company.
	ErrCompanyRequired = fmt.Errorf("%w: rates: company required", shared.ErrInvalidRequest)
	// ErrInvalidScope indicates an unknown scope.
	ErrInvalidScope = fmt.Errorf("%w: rates: invalid scope", shared.ErrInvalidRequest)
	// ErrNegativePrice indicates a negative default price.
	ErrNegativePrice = fmt.Errorf("%w: rates: default price must not be negative", shared.ErrInvalidRequest)
)
