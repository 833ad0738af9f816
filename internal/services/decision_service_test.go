// internal/services/decision_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fundingdesk/underwriting-backend/internal/database"
	"github.com/fundingdesk/underwriting-backend/internal/models"
)

type DecisionServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service *DecisionService
	ctx     context.Context
}

func (suite *DecisionServiceTestSuite) SetupSuite() {
	db, err := gorm.Open(sqlite.Open("file:decision_service_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.Require().NoError(err)

	sqlDB, err := db.DB()
	suite.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)

	suite.Require().NoError(database.AutoMigrate(db))

	suite.db = db
	suite.service = NewDecisionService(db, nil)
	suite.ctx = context.Background()
}

func (suite *DecisionServiceTestSuite) SetupTest() {
	suite.db.Unscoped().Where("1 = 1").Delete(&models.UnderwritingDecision{})
}

func validApprovalInput() *ApprovalInput {
	return &ApprovalInput{
		Lender:        "Rapid Capital",
		AdvanceAmount: "50000",
		Term:          "12 months",
	}
}

func (suite *DecisionServiceTestSuite) TestFirstApprovalBecomesPrimary() {
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	suite.Require().Len(entries, 1)
	suite.True(entries[0].IsPrimary)
	suite.Equal("weekly", entries[0].PaymentFrequency)

	decision, err := suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusApproved, decision.Status)
	suite.NotEmpty(decision.ApprovalSlug)
	suite.Equal(1, decision.Version)
}

func (suite *DecisionServiceTestSuite) TestSecondApprovalIsNotPrimary() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	second := &ApprovalInput{Lender: "Summit Funding", AdvanceAmount: "75000", PaymentFrequency: "daily"}
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", second, "")
	suite.Require().NoError(err)
	suite.Require().Len(entries, 2)

	primaries := 0
	for _, e := range entries {
		if e.IsPrimary {
			primaries++
		}
	}
	suite.Equal(1, primaries)
	suite.True(entries[0].IsPrimary)
	suite.Equal("daily", entries[1].PaymentFrequency)
}

func (suite *DecisionServiceTestSuite) TestEditApprovalPreservesIdentity() {
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	original := entries[0]

	edited := &ApprovalInput{Lender: "Rapid Capital", AdvanceAmount: "60000", Term: "18 months"}
	entries, err = suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", edited, original.ID)
	suite.Require().NoError(err)
	suite.Require().Len(entries, 1)
	suite.Equal(original.ID, entries[0].ID)
	suite.True(entries[0].IsPrimary)
	suite.Equal("60000", entries[0].AdvanceAmount)
	suite.Equal("18 months", entries[0].Term)
	suite.WithinDuration(original.CreatedAt, entries[0].CreatedAt, time.Second)
}

func (suite *DecisionServiceTestSuite) TestEditUnknownApproval() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	_, err = suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "no-such-id")
	suite.ErrorIs(err, ErrApprovalNotFound)
}

func (suite *DecisionServiceTestSuite) TestRecordApprovalValidation() {
	bad := &ApprovalInput{Lender: "Rapid Capital", AdvanceAmount: "fifty grand"}
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", bad, "")
	suite.Error(err)

	_, err = suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.ErrorIs(err, ErrDecisionNotFound)
}

func (suite *DecisionServiceTestSuite) TestSetPrimaryMovesFlag() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	second := &ApprovalInput{Lender: "Summit Funding", AdvanceAmount: "75000"}
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", second, "")
	suite.Require().NoError(err)

	entries, err = suite.service.SetPrimary(suite.ctx, "owner@acmebakery.com", entries[1].ID)
	suite.Require().NoError(err)
	suite.Require().Len(entries, 2)
	suite.False(entries[0].IsPrimary)
	suite.True(entries[1].IsPrimary)
}

func (suite *DecisionServiceTestSuite) TestSetPrimaryUnknownEntryIsNoOp() {
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	after, err := suite.service.SetPrimary(suite.ctx, "owner@acmebakery.com", "no-such-id")
	suite.Require().NoError(err)
	suite.Require().Len(after, 1)
	suite.True(after[0].IsPrimary)
	suite.Equal(entries[0].ID, after[0].ID)
}

func (suite *DecisionServiceTestSuite) TestSetPrimaryMissingBusinessIsNoOp() {
	entries, err := suite.service.SetPrimary(suite.ctx, "nobody@example.com", "whatever")
	suite.NoError(err)
	suite.Nil(entries)
}

func (suite *DecisionServiceTestSuite) TestDeletePrimaryPromotesNext() {
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	primaryID := entries[0].ID
	second := &ApprovalInput{Lender: "Summit Funding", AdvanceAmount: "75000"}
	_, err = suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", second, "")
	suite.Require().NoError(err)

	entries, err = suite.service.DeleteApproval(suite.ctx, "owner@acmebakery.com", primaryID)
	suite.Require().NoError(err)
	suite.Require().Len(entries, 1)
	suite.Equal("Summit Funding", entries[0].Lender)
	suite.True(entries[0].IsPrimary)
}

func (suite *DecisionServiceTestSuite) TestDeleteLastApprovalRemovesDecision() {
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	entries, err = suite.service.DeleteApproval(suite.ctx, "owner@acmebakery.com", entries[0].ID)
	suite.Require().NoError(err)
	suite.Empty(entries)

	_, err = suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.ErrorIs(err, ErrDecisionNotFound)
}

func (suite *DecisionServiceTestSuite) TestDeleteUnknownApprovalIsNoOp() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	entries, err := suite.service.DeleteApproval(suite.ctx, "owner@acmebakery.com", "no-such-id")
	suite.Require().NoError(err)
	suite.Len(entries, 1)
}

func (suite *DecisionServiceTestSuite) TestRecordDeclineNormalizesFollowUpDate() {
	decision, err := suite.service.RecordDecline(suite.ctx, "owner@acmebakery.com", "Acme Bakery", "Revenue too low", true, "2026-09-15")
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusDeclined, decision.Status)
	suite.Equal("Revenue too low", decision.DeclineReason)
	suite.True(decision.FollowUpWorthy)

	suite.Require().NotNil(decision.FollowUpDate)
	followUp := decision.FollowUpDate.UTC()
	suite.Equal(2026, followUp.Year())
	suite.Equal(time.September, followUp.Month())
	suite.Equal(15, followUp.Day())
	suite.Equal(12, followUp.Hour())
}

func (suite *DecisionServiceTestSuite) TestDeclineIgnoresFollowUpDateWhenNotWorthy() {
	decision, err := suite.service.RecordDecline(suite.ctx, "owner@acmebakery.com", "Acme Bakery", "Revenue too low", false, "2026-09-15")
	suite.Require().NoError(err)
	suite.Nil(decision.FollowUpDate)
}

func (suite *DecisionServiceTestSuite) TestDeclineOverwritesApproval() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	decision, err := suite.service.RecordDecline(suite.ctx, "owner@acmebakery.com", "Acme Bakery", "Statements inconsistent", false, "")
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusDeclined, decision.Status)
	suite.Equal(2, decision.Version)
}

func (suite *DecisionServiceTestSuite) TestRecordUnqualified() {
	decision, err := suite.service.RecordUnqualified(suite.ctx, "owner@acmebakery.com", "Acme Bakery", "Under 6 months in business", false, "")
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusUnqualified, decision.Status)
	suite.Equal("Under 6 months in business", decision.DeclineReason)
}

func (suite *DecisionServiceTestSuite) TestMarkFunded() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	decision, err := suite.service.MarkFunded(suite.ctx, "owner@acmebakery.com")
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusFunded, decision.Status)
	suite.NotEmpty(decision.ApprovalSlug)

	// Approvals survive funding untouched.
	suite.Len(decision.ReconcileApprovals(), 1)
}

func (suite *DecisionServiceTestSuite) TestMarkFundedMissingBusiness() {
	_, err := suite.service.MarkFunded(suite.ctx, "nobody@example.com")
	suite.ErrorIs(err, ErrDecisionNotFound)
}

func (suite *DecisionServiceTestSuite) TestResetDecision() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	decision, err := suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.Require().NoError(err)

	suite.Require().NoError(suite.service.ResetDecision(suite.ctx, decision.ID))
	suite.ErrorIs(suite.service.ResetDecision(suite.ctx, decision.ID), ErrDecisionNotFound)

	_, err = suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.ErrorIs(err, ErrDecisionNotFound)
}

func (suite *DecisionServiceTestSuite) TestResetThenReapprove() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	decision, err := suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.Require().NoError(err)
	suite.Require().NoError(suite.service.ResetDecision(suite.ctx, decision.ID))

	// A reset business can be decided again from scratch.
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)
	suite.Len(entries, 1)
	suite.True(entries[0].IsPrimary)
}

func (suite *DecisionServiceTestSuite) TestUpdateVersionConflict() {
	decision, err := suite.service.Create(suite.ctx, &CreateDecisionRequest{
		BusinessEmail: "owner@acmebakery.com",
		BusinessName:  "Acme Bakery",
		Status:        models.DecisionStatusApproved,
	})
	suite.Require().NoError(err)

	stale := decision.Version
	notes := "first editor"
	_, err = suite.service.Update(suite.ctx, decision.ID, &DecisionPatch{Notes: &notes}, &stale)
	suite.Require().NoError(err)

	notes = "second editor"
	_, err = suite.service.Update(suite.ctx, decision.ID, &DecisionPatch{Notes: &notes}, &stale)
	suite.ErrorIs(err, ErrVersionConflict)
}

func (suite *DecisionServiceTestSuite) TestUpdateWithoutIfMatchAlwaysWins() {
	decision, err := suite.service.Create(suite.ctx, &CreateDecisionRequest{
		BusinessEmail: "owner@acmebakery.com",
		BusinessName:  "Acme Bakery",
		Status:        models.DecisionStatusApproved,
	})
	suite.Require().NoError(err)

	notes := "unconditional"
	updated, err := suite.service.Update(suite.ctx, decision.ID, &DecisionPatch{Notes: &notes}, nil)
	suite.Require().NoError(err)
	suite.Equal(decision.Version+1, updated.Version)
	suite.Equal("unconditional", updated.Notes)
}

func (suite *DecisionServiceTestSuite) TestCreateUpsertsExisting() {
	first, err := suite.service.Create(suite.ctx, &CreateDecisionRequest{
		BusinessEmail: "owner@acmebakery.com",
		BusinessName:  "Acme Bakery",
		Status:        models.DecisionStatusApproved,
	})
	suite.Require().NoError(err)

	second, err := suite.service.Create(suite.ctx, &CreateDecisionRequest{
		BusinessEmail: "owner@acmebakery.com",
		BusinessName:  "Acme Bakery LLC",
		Status:        models.DecisionStatusFunded,
	})
	suite.Require().NoError(err)
	suite.Equal(first.ID, second.ID)
	suite.Equal(models.DecisionStatusFunded, second.Status)
	suite.Equal("Acme Bakery LLC", second.BusinessName)
}

func (suite *DecisionServiceTestSuite) TestCreateTerminalStatusKeepsReason() {
	decision, err := suite.service.Create(suite.ctx, &CreateDecisionRequest{
		BusinessEmail: "owner@acmebakery.com",
		BusinessName:  "Acme Bakery",
		Status:        models.DecisionStatusDeclined,
		DeclineReason: "Negative balance days",
	})
	suite.Require().NoError(err)
	suite.Equal(models.DecisionStatusDeclined, decision.Status)
	suite.Equal("Negative balance days", decision.DeclineReason)
}

func (suite *DecisionServiceTestSuite) TestListRoleScoping() {
	_, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	all, err := suite.service.List(suite.ctx, models.UserTypeUnderwriting)
	suite.Require().NoError(err)
	suite.Len(all, 1)

	adminView, err := suite.service.List(suite.ctx, models.UserTypeAdmin)
	suite.Require().NoError(err)
	suite.Len(adminView, 1)

	agentView, err := suite.service.List(suite.ctx, models.UserTypeAgent)
	suite.Require().NoError(err)
	suite.Empty(agentView)
}

func (suite *DecisionServiceTestSuite) TestEmailMatchingIsCaseInsensitive() {
	_, err := suite.service.RecordApproval(suite.ctx, "Owner@AcmeBakery.com", "Acme Bakery", validApprovalInput(), "")
	suite.Require().NoError(err)

	second := &ApprovalInput{Lender: "Summit Funding", AdvanceAmount: "75000"}
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", second, "")
	suite.Require().NoError(err)
	suite.Len(entries, 2)
}

func (suite *DecisionServiceTestSuite) TestLegacyRecordMigratesOnWrite() {
	// Seed a record in the shape the dashboard wrote before multi-approval.
	legacy := &models.UnderwritingDecision{
		BusinessEmail:    "owner@acmebakery.com",
		BusinessName:     "Acme Bakery",
		Status:           models.DecisionStatusApproved,
		Lender:           "Rapid Capital",
		AdvanceAmount:    "50000",
		PaymentFrequency: "daily",
		AdditionalApprovals: models.RawApprovals(
			`[{"lender": "Summit Funding", "amount": "75000"}]`),
		Version: 1,
	}
	suite.Require().NoError(suite.db.Create(legacy).Error)

	third := &ApprovalInput{Lender: "Harbor MCA", AdvanceAmount: "30000"}
	entries, err := suite.service.RecordApproval(suite.ctx, "owner@acmebakery.com", "Acme Bakery", third, "")
	suite.Require().NoError(err)
	suite.Require().Len(entries, 3)

	suite.Equal("primary-"+legacy.ID.String(), entries[0].ID)
	suite.True(entries[0].IsPrimary)
	suite.Equal("migrated-0", entries[1].ID)
	suite.Equal("75000", entries[1].AdvanceAmount)
	suite.Equal("Harbor MCA", entries[2].Lender)

	// The canonical list is now persisted; reads are stable from here on.
	decision, err := suite.service.GetByEmail(suite.ctx, "owner@acmebakery.com")
	suite.Require().NoError(err)
	persisted := decision.ReconcileApprovals()
	suite.Require().Len(persisted, 3)
	suite.Equal(entries[0].ID, persisted[0].ID)
	suite.Equal(2, decision.Version)
}

func TestDecisionServiceSuite(t *testing.T) {
	suite.Run(t, new(DecisionServiceTestSuite))
}
