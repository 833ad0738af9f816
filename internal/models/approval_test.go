// internal/models/approval_test.go
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileApprovalsCanonicalPassthrough(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	canonical := []ApprovalEntry{
		{
			ID:               "e1c7a7d2-1111-4222-8333-444455556666",
			Lender:           "Rapid Capital",
			AdvanceAmount:    "50000",
			Term:             "12 months",
			PaymentFrequency: "weekly",
			IsPrimary:        true,
			CreatedAt:        created,
		},
		{
			ID:               "f2d8b8e3-7777-4888-9999-000011112222",
			Lender:           "Summit Funding",
			AdvanceAmount:    "75000",
			PaymentFrequency: "daily",
			IsPrimary:        false,
			CreatedAt:        created,
		},
	}

	decision := &UnderwritingDecision{Status: DecisionStatusApproved}
	require.NoError(t, decision.SetApprovals(canonical))

	entries := decision.ReconcileApprovals()
	assert.Equal(t, canonical, entries)

	// Running it again must not change anything.
	assert.Equal(t, entries, decision.ReconcileApprovals())
}

func TestReconcileApprovalsMigratesLegacyShape(t *testing.T) {
	decisionID := uuid.New()
	created := time.Date(2025, 11, 2, 8, 0, 0, 0, time.UTC)

	decision := &UnderwritingDecision{
		BaseModel:        BaseModel{ID: decisionID, CreatedAt: created},
		Status:           DecisionStatusApproved,
		Lender:           "Rapid Capital",
		AdvanceAmount:    "50000",
		Term:             "12 months",
		PaymentFrequency: "daily",
		FactorRate:       "1.25",
		AdditionalApprovals: RawApprovals(`[
			{"lender": "Summit Funding", "amount": "75000", "term": "18 months"},
			{"lender": "Harbor MCA", "advanceAmount": "30000", "paymentFrequency": "monthly"}
		]`),
	}

	entries := decision.ReconcileApprovals()
	require.Len(t, entries, 3)

	primary := entries[0]
	assert.Equal(t, "primary-"+decisionID.String(), primary.ID)
	assert.Equal(t, "Rapid Capital", primary.Lender)
	assert.Equal(t, "50000", primary.AdvanceAmount)
	assert.Equal(t, "daily", primary.PaymentFrequency)
	assert.Equal(t, "1.25", primary.FactorRate)
	assert.True(t, primary.IsPrimary)
	assert.Equal(t, created, primary.CreatedAt)

	// Loose entries map "amount" to AdvanceAmount and default the frequency.
	assert.Equal(t, "migrated-0", entries[1].ID)
	assert.Equal(t, "75000", entries[1].AdvanceAmount)
	assert.Equal(t, "weekly", entries[1].PaymentFrequency)
	assert.False(t, entries[1].IsPrimary)

	assert.Equal(t, "migrated-1", entries[2].ID)
	assert.Equal(t, "30000", entries[2].AdvanceAmount)
	assert.Equal(t, "monthly", entries[2].PaymentFrequency)
	assert.False(t, entries[2].IsPrimary)
}

func TestReconcileApprovalsLegacyWithoutExtras(t *testing.T) {
	decision := &UnderwritingDecision{
		BaseModel:     BaseModel{ID: uuid.New()},
		Status:        DecisionStatusApproved,
		Lender:        "Rapid Capital",
		AdvanceAmount: "40000",
	}

	entries := decision.ReconcileApprovals()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsPrimary)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestReconcileApprovalsNumericAmounts(t *testing.T) {
	decision := &UnderwritingDecision{
		BaseModel:           BaseModel{ID: uuid.New()},
		Status:              DecisionStatusApproved,
		AdditionalApprovals: RawApprovals(`[{"lender": "Summit Funding", "amount": 75000}]`),
	}

	entries := decision.ReconcileApprovals()
	require.Len(t, entries, 1)
	assert.Equal(t, "75000", entries[0].AdvanceAmount)
}

func TestReconcileApprovalsMalformedBlob(t *testing.T) {
	decision := &UnderwritingDecision{
		BaseModel:           BaseModel{ID: uuid.New()},
		Status:              DecisionStatusApproved,
		Lender:              "Rapid Capital",
		AdvanceAmount:       "40000",
		AdditionalApprovals: RawApprovals(`{"oops": "not a list"}`),
	}

	entries := decision.ReconcileApprovals()
	require.Len(t, entries, 1)
	assert.Equal(t, "Rapid Capital", entries[0].Lender)
}

func TestReconcileApprovalsEmptyDecision(t *testing.T) {
	decision := &UnderwritingDecision{Status: DecisionStatusPending}
	assert.Empty(t, decision.ReconcileApprovals())
	assert.Nil(t, decision.PrimaryApproval())
}

func TestReconcileApprovalsCanonicalWithMalformedEntry(t *testing.T) {
	// One entry with a non-string amount must not drop the others.
	blob := `[
		{"id": "a", "lender": "Rapid Capital", "advanceAmount": "50000", "isPrimary": true},
		{"id": "b", "lender": "Summit Funding", "advanceAmount": 75000, "isPrimary": false}
	]`
	decision := &UnderwritingDecision{
		Status:              DecisionStatusApproved,
		AdditionalApprovals: RawApprovals(blob),
	}

	entries := decision.ReconcileApprovals()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.True(t, entries[0].IsPrimary)
	assert.Equal(t, "75000", entries[1].AdvanceAmount)
}

func TestPrimaryApproval(t *testing.T) {
	decision := &UnderwritingDecision{Status: DecisionStatusApproved}
	require.NoError(t, decision.SetApprovals([]ApprovalEntry{
		{ID: "a", Lender: "Rapid Capital", IsPrimary: false},
		{ID: "b", Lender: "Summit Funding", IsPrimary: true},
	}))

	primary := decision.PrimaryApproval()
	require.NotNil(t, primary)
	assert.Equal(t, "b", primary.ID)
}

func TestSetApprovalsRoundTrip(t *testing.T) {
	decision := &UnderwritingDecision{
		BaseModel:     BaseModel{ID: uuid.New(), CreatedAt: time.Now()},
		Status:        DecisionStatusApproved,
		Lender:        "Rapid Capital",
		AdvanceAmount: "50000",
		AdditionalApprovals: RawApprovals(`[
			{"lender": "Summit Funding", "amount": "75000"}
		]`),
	}

	migrated := decision.ReconcileApprovals()
	require.NoError(t, decision.SetApprovals(migrated))

	// Once persisted canonical, IDs and timestamps are stable.
	first := decision.ReconcileApprovals()
	second := decision.ReconcileApprovals()
	assert.Equal(t, first, second)
	assert.Equal(t, "primary-"+decision.ID.String(), first[0].ID)
	assert.Equal(t, "migrated-0", first[1].ID)
}

func TestRawApprovalsJSONMarshalling(t *testing.T) {
	decision := &UnderwritingDecision{Status: DecisionStatusApproved}
	require.NoError(t, decision.SetApprovals([]ApprovalEntry{{ID: "a", IsPrimary: true}}))

	data, err := json.Marshal(decision)
	require.NoError(t, err)

	var decoded UnderwritingDecision
	require.NoError(t, json.Unmarshal(data, &decoded))
	entries := decoded.ReconcileApprovals()
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
}
