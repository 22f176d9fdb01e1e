package rates

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	companyA = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	companyB = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	asOf     = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func rule(ruleType RuleType, ref string, mode Mode, value string, priority int) Rule {
	return Rule{
		ID:          uuid.New(),
		CompanyID:   companyA,
		Scope:       ScopeOPD,
		RuleType:    ruleType,
		ReferenceID: ref,
		VisitType:   VisitAny,
		Mode:        mode,
		Value:       dec(value),
		Priority:    priority,
		Active:      true,
		CreatedAt:   asOf.Add(-24 * time.Hour),
	}
}

func opdRequest(doctorID, departmentID string) Request {
	return Request{
		CompanyID:    companyA,
		Scope:        ScopeOPD,
		Candidates:   OPDCandidates(doctorID, departmentID),
		VisitType:    VisitNew,
		DefaultPrice: dec("1000"),
		AsOf:         asOf,
	}
}

func TestResolveSpecificityBeatsPriority(t *testing.T) {
	doctor := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "700", 50)
	department := rule(RuleTypeDepartment, "dept-1", ModeFixedPrice, "800", 10)
	fallback := rule(RuleTypeDefault, "", ModeFixedDiscount, "50", 1)
	rules := []Rule{fallback, department, doctor}

	res := Resolve(rules, opdRequest("doc-1", "dept-1"))
	require.Equal(t, doctor.ID.String(), res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("700")))
	assert.Equal(t, ModeFixedPrice, res.Mode)

	res = Resolve(rules, opdRequest("doc-2", "dept-1"))
	require.Equal(t, department.ID.String(), res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("800")))

	res = Resolve(rules, opdRequest("doc-2", "dept-2"))
	require.Equal(t, fallback.ID.String(), res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("950")))
}

func TestResolveLowestPriorityWithinLevel(t *testing.T) {
	low := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "600", 20)
	high := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "650", 80)
	res := Resolve([]Rule{high, low}, opdRequest("doc-1", ""))
	assert.Equal(t, low.ID.String(), res.AppliedRuleID)
}

func TestResolveIsDeterministicOnTies(t *testing.T) {
	first := rule(RuleTypeDefault, "", ModeFixedPrice, "100", 100)
	second := rule(RuleTypeDefault, "", ModeFixedPrice, "200", 100)
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	bounded := rule(RuleTypeDefault, "", ModeFixedPrice, "300", 100)
	bounded.EffectiveFrom = ptrTime(asOf.Add(-time.Hour))

	orders := [][]Rule{
		{first, second, bounded},
		{bounded, second, first},
		{second, bounded, first},
	}
	for _, rules := range orders {
		res := Resolve(rules, opdRequest("", ""))
		assert.Equal(t, first.ID.String(), res.AppliedRuleID)
	}

	same := rule(RuleTypeDefault, "", ModeFixedPrice, "400", 100)
	same.CreatedAt = first.CreatedAt
	want := first.ID.String()
	if same.ID.String() < want {
		want = same.ID.String()
	}
	assert.Equal(t, want, Resolve([]Rule{same, first}, opdRequest("", "")).AppliedRuleID)
	assert.Equal(t, want, Resolve([]Rule{first, same}, opdRequest("", "")).AppliedRuleID)
}

func TestResolveRepeatedCallsAreIdentical(t *testing.T) {
	rules := []Rule{
		rule(RuleTypeDoctor, "doc-1", ModePercentDiscount, "12.5", 50),
		rule(RuleTypeDefault, "", ModeFixedDiscount, "50", 100),
	}
	req := opdRequest("doc-1", "dept-1")
	first := Resolve(rules, req)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Resolve(rules, req))
	}
}

func TestResolveEffectiveWindow(t *testing.T) {
	expired := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "500", 1)
	expired.EffectiveTo = ptrTime(asOf.Add(-time.Second))
	future := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "400", 1)
	future.EffectiveFrom = ptrTime(asOf.Add(time.Second))
	edge := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "900", 90)
	edge.EffectiveFrom = ptrTime(asOf)
	edge.EffectiveTo = ptrTime(asOf)

	res := Resolve([]Rule{expired, future, edge}, opdRequest("doc-1", ""))
	assert.Equal(t, edge.ID.String(), res.AppliedRuleID)

	res = Resolve([]Rule{expired, future}, opdRequest("doc-1", ""))
	assert.Equal(t, ModeNone, res.Mode)
	assert.Empty(t, res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("1000")))
}

func TestResolveFiltersByVisitTypeForOPD(t *testing.T) {
	followup := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "300", 1)
	followup.VisitType = VisitFollowup
	anyVisit := rule(RuleTypeDoctor, "doc-1", ModeFixedPrice, "600", 50)

	res := Resolve([]Rule{followup, anyVisit}, opdRequest("doc-1", ""))
	assert.Equal(t, anyVisit.ID.String(), res.AppliedRuleID)

	req := opdRequest("doc-1", "")
	req.VisitType = VisitFollowup
	res = Resolve([]Rule{followup, anyVisit}, req)
	assert.Equal(t, followup.ID.String(), res.AppliedRuleID)
}

func TestResolveIgnoresVisitTypeOutsideOPD(t *testing.T) {
	test := rule(RuleTypeTest, "cbc", ModeFixedPrice, "250", 100)
	test.Scope = ScopeLAB
	test.VisitType = VisitFollowup
	req := Request{
		CompanyID:    companyA,
		Scope:        ScopeLAB,
		Candidates:   TestCandidates("cbc", "hematology"),
		DefaultPrice: dec("300"),
		AsOf:         asOf,
	}
	res := Resolve([]Rule{test}, req)
	assert.Equal(t, test.ID.String(), res.AppliedRuleID)
}

func TestResolveSkipsForeignAndInactiveRules(t *testing.T) {
	foreign := rule(RuleTypeDefault, "", ModeFixedPrice, "1", 1)
	foreign.CompanyID = companyB
	inactive := rule(RuleTypeDefault, "", ModeFixedPrice, "2", 1)
	inactive.Active = false
	otherScope := rule(RuleTypeDefault, "", ModeFixedPrice, "3", 1)
	otherScope.Scope = ScopeIPD

	res := Resolve([]Rule{foreign, inactive, otherScope}, opdRequest("", ""))
	assert.Equal(t, ModeNone, res.Mode)
	assert.True(t, res.Price.Equal(dec("1000")))
}

func TestResolveLabFallsBackToTestGroup(t *testing.T) {
	group := rule(RuleTypeTestGroup, "hematology", ModePercentDiscount, "20", 100)
	group.Scope = ScopeLAB
	req := Request{
		CompanyID:    companyA,
		Scope:        ScopeLAB,
		Candidates:   TestCandidates("cbc", "hematology"),
		DefaultPrice: dec("300"),
		AsOf:         asOf,
	}
	res := Resolve([]Rule{group}, req)
	assert.Equal(t, group.ID.String(), res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("240")))
}

func TestResolveIPDMatchesItemType(t *testing.T) {
	bed := rule(RuleTypeBedCategory, "icu", ModeFixedPrice, "5000", 100)
	bed.Scope = ScopeIPD
	procedure := rule(RuleTypeProcedure, "icu", ModeFixedPrice, "9000", 100)
	procedure.Scope = ScopeIPD
	req := Request{
		CompanyID:    companyA,
		Scope:        ScopeIPD,
		Candidates:   IPDCandidates(IPDItemBed, "icu"),
		DefaultPrice: dec("6000"),
		AsOf:         asOf,
	}
	res := Resolve([]Rule{procedure, bed}, req)
	assert.Equal(t, bed.ID.String(), res.AppliedRuleID)
	assert.True(t, res.Price.Equal(dec("5000")))
}

func TestPriceNeverNegative(t *testing.T) {
	cases := []struct {
		name  string
		mode  Mode
		value string
		want  string
	}{
		{"fixed price", ModeFixedPrice, "750", "750"},
		{"percent", ModePercentDiscount, "15", "850"},
		{"percent above hundred", ModePercentDiscount, "120", "0"},
		{"fixed discount", ModeFixedDiscount, "50", "950"},
		{"fixed discount above price", ModeFixedDiscount, "1500", "0"},
		{"negative fixed price", ModeFixedPrice, "-5", "0"},
		{"percent rounding", ModePercentDiscount, "33.333", "666.67"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := rule(RuleTypeDefault, "", tc.mode, tc.value, 100)
			got := price(r, dec("1000"))
			assert.Truef(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestRequestValidate(t *testing.T) {
	req := opdRequest("", "")
	require.NoError(t, req.Validate())

	bad := req
	bad.CompanyID = uuid.Nil
	require.ErrorIs(t, bad.Validate(), ErrCompanyRequired)

	bad = req
	bad.Scope = "XRAY"
	require.ErrorIs(t, bad.Validate(), ErrInvalidScope)

	bad = req
	bad.DefaultPrice = dec("-1")
	require.ErrorIs(t, bad.Validate(), ErrNegativePrice)
}
