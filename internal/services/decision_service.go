// internal/services/decision_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

var (
	ErrDecisionNotFound = errors.New("underwriting decision not found")
	ErrApprovalNotFound = errors.New("approval entry not found")
	ErrVersionConflict  = errors.New("underwriting decision was modified concurrently")
)

// DecisionService is the lifecycle controller for underwriting decisions.
// Every approvals-list mutation follows read-reconcile-write: the stored
// blob (legacy or canonical) is normalized, edited in memory and written
// back wholesale, conditional on the version it was derived from. Two
// sessions racing the same business get ErrVersionConflict instead of a
// silent lost update.
type DecisionService struct {
	db                  *gorm.DB
	notificationService *NotificationService
}

type ApprovalInput struct {
	Lender           string `json:"lender" validate:"required"`
	AdvanceAmount    string `json:"advanceAmount" validate:"required,decimal_string"`
	Term             string `json:"term,omitempty"`
	PaymentFrequency string `json:"paymentFrequency,omitempty"`
	FactorRate       string `json:"factorRate,omitempty"`
	MaxUpsell        string `json:"maxUpsell,omitempty" validate:"omitempty,decimal_string"`
	TotalPayback     string `json:"totalPayback,omitempty" validate:"omitempty,decimal_string"`
	NetAfterFees     string `json:"netAfterFees,omitempty" validate:"omitempty,decimal_string"`
	Notes            string `json:"notes,omitempty"`
	ApprovalDate     string `json:"approvalDate,omitempty" validate:"omitempty,plain_date"`
}

type CreateDecisionRequest struct {
	BusinessEmail  string                `json:"businessEmail" validate:"required,email"`
	BusinessName   string                `json:"businessName" validate:"required"`
	Status         models.DecisionStatus `json:"status" validate:"required"`
	DeclineReason  string                `json:"declineReason,omitempty"`
	FollowUpWorthy bool                  `json:"followUpWorthy,omitempty"`
	FollowUpDate   string                `json:"followUpDate,omitempty" validate:"omitempty,plain_date"`
}

// DecisionPatch is the partial-update body of PATCH /underwriting-decisions.
// Nil fields are left untouched.
type DecisionPatch struct {
	Status              *models.DecisionStatus `json:"status,omitempty"`
	AdditionalApprovals models.RawApprovals    `json:"additionalApprovals,omitempty"`
	DeclineReason       *string                `json:"declineReason,omitempty"`
	FollowUpWorthy      *bool                  `json:"followUpWorthy,omitempty"`
	FollowUpDate        *string                `json:"followUpDate,omitempty" validate:"omitempty,plain_date"`
	Notes               *string                `json:"notes,omitempty"`
}

func NewDecisionService(db *gorm.DB, notificationService *NotificationService) *DecisionService {
	return &DecisionService{
		db:                  db,
		notificationService: notificationService,
	}
}

// GetByEmail looks a decision up by its case-insensitive business email.
func (s *DecisionService) GetByEmail(ctx context.Context, businessEmail string) (*models.UnderwritingDecision, error) {
	var decision models.UnderwritingDecision
	err := s.db.WithContext(ctx).
		Where("LOWER(business_email) = LOWER(?)", businessEmail).
		First(&decision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &decision, nil
}

func (s *DecisionService) GetByID(ctx context.Context, id uuid.UUID) (*models.UnderwritingDecision, error) {
	var decision models.UnderwritingDecision
	if err := s.db.WithContext(ctx).First(&decision, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &decision, nil
}

// GetBySlug resolves a public approval-letter token. Only approved and
// funded decisions have letters.
func (s *DecisionService) GetBySlug(ctx context.Context, slug string) (*models.UnderwritingDecision, error) {
	var decision models.UnderwritingDecision
	err := s.db.WithContext(ctx).
		Where("approval_slug = ? AND status IN (?, ?)",
			slug, models.DecisionStatusApproved, models.DecisionStatusFunded).
		First(&decision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &decision, nil
}

// List returns every decision for admin/underwriting roles. Other roles get
// an empty list rather than an error so stale dashboards keep rendering.
func (s *DecisionService) List(ctx context.Context, role models.UserType) ([]models.UnderwritingDecision, error) {
	if !role.CanViewDecisions() {
		return []models.UnderwritingDecision{}, nil
	}

	var decisions []models.UnderwritingDecision
	if err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch underwriting decisions: %w", err)
	}
	return decisions, nil
}

// RecordApproval reconciles the stored approvals and either replaces the
// entry matching editingID (keeping its original id, createdAt and primary
// flag) or appends a new one. The first-ever approval for a business always
// becomes primary. When no decision exists yet, one is created with status
// approved and a fresh approval-letter slug.
func (s *DecisionService) RecordApproval(ctx context.Context, businessEmail, businessName string, input *ApprovalInput, editingID string) ([]models.ApprovalEntry, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	decision, err := s.GetByEmail(ctx, businessEmail)
	if errors.Is(err, ErrDecisionNotFound) {
		return s.createApprovedDecision(ctx, businessEmail, businessName, input)
	}
	if err != nil {
		return nil, err
	}

	entries := decision.ReconcileApprovals()

	if editingID != "" {
		idx := indexOfApproval(entries, editingID)
		if idx < 0 {
			return nil, ErrApprovalNotFound
		}
		replacement := entryFromInput(input, entries[idx].ID, entries[idx].IsPrimary, entries[idx].CreatedAt)
		entries[idx] = replacement
	} else {
		entry := entryFromInput(input, uuid.New().String(), len(entries) == 0, time.Now())
		entries = append(entries, entry)
	}

	if err := s.saveApprovals(ctx, decision, entries); err != nil {
		return nil, err
	}

	go s.notifyDecision(decision, "approval_recorded")

	return entries, nil
}

// SetPrimary flags the matching entry as the headline offer and clears the
// flag everywhere else. Missing decision or entry is a silent no-op so a
// stale client can never strip the primary flag from the whole list.
func (s *DecisionService) SetPrimary(ctx context.Context, businessEmail, approvalID string) ([]models.ApprovalEntry, error) {
	decision, err := s.GetByEmail(ctx, businessEmail)
	if errors.Is(err, ErrDecisionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := decision.ReconcileApprovals()
	if indexOfApproval(entries, approvalID) < 0 {
		return entries, nil
	}

	for i := range entries {
		entries[i].IsPrimary = entries[i].ID == approvalID
	}

	if err := s.saveApprovals(ctx, decision, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteApproval removes the matching entry. Removing the primary promotes
// the first remaining entry; removing the last entry deletes the decision
// record entirely, reverting the business to pending.
func (s *DecisionService) DeleteApproval(ctx context.Context, businessEmail, approvalID string) ([]models.ApprovalEntry, error) {
	decision, err := s.GetByEmail(ctx, businessEmail)
	if errors.Is(err, ErrDecisionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := decision.ReconcileApprovals()
	idx := indexOfApproval(entries, approvalID)
	if idx < 0 {
		return entries, nil
	}

	removed := entries[idx]
	entries = append(entries[:idx], entries[idx+1:]...)

	if len(entries) == 0 {
		res := s.db.WithContext(ctx).Unscoped().
			Where("id = ? AND version = ?", decision.ID, decision.Version).
			Delete(&models.UnderwritingDecision{})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to delete underwriting decision: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrVersionConflict
		}
		return []models.ApprovalEntry{}, nil
	}

	if removed.IsPrimary {
		entries[0].IsPrimary = true
	}

	if err := s.saveApprovals(ctx, decision, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RecordDecline upserts the decision with status declined. The follow-up
// date is only kept when the business is worth following up on, pinned to
// midday UTC so date displays never shift across timezones.
func (s *DecisionService) RecordDecline(ctx context.Context, businessEmail, businessName, reason string, followUpWorthy bool, followUpDate string) (*models.UnderwritingDecision, error) {
	return s.upsertTerminal(ctx, businessEmail, businessName, models.DecisionStatusDeclined, reason, followUpWorthy, followUpDate)
}

// RecordUnqualified mirrors RecordDecline with status unqualified. The
// non-empty reason requirement sits at the request-validation layer.
func (s *DecisionService) RecordUnqualified(ctx context.Context, businessEmail, businessName, reason string, followUpWorthy bool, followUpDate string) (*models.UnderwritingDecision, error) {
	return s.upsertTerminal(ctx, businessEmail, businessName, models.DecisionStatusUnqualified, reason, followUpWorthy, followUpDate)
}

// MarkFunded moves an approved business to funded, leaving its approvals
// untouched. Callers only expose this action on approved decisions; the
// controller itself does not re-check the source state.
func (s *DecisionService) MarkFunded(ctx context.Context, businessEmail string) (*models.UnderwritingDecision, error) {
	decision, err := s.GetByEmail(ctx, businessEmail)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":  models.DecisionStatusFunded,
		"version": decision.Version + 1,
	}
	if decision.ApprovalSlug == "" {
		slug, err := utils.GenerateApprovalSlug()
		if err != nil {
			return nil, fmt.Errorf("failed to generate approval slug: %w", err)
		}
		updates["approval_slug"] = slug
	}

	res := s.db.WithContext(ctx).Model(&models.UnderwritingDecision{}).
		Where("id = ? AND version = ?", decision.ID, decision.Version).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark decision funded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	go s.notifyDecision(decision, "funded")

	return s.GetByID(ctx, decision.ID)
}

// ResetDecision removes the record unconditionally; the business reverts to
// pending.
func (s *DecisionService) ResetDecision(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Unscoped().Delete(&models.UnderwritingDecision{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete underwriting decision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDecisionNotFound
	}
	return nil
}

// Create is the store-contract POST: create or upsert by business email.
func (s *DecisionService) Create(ctx context.Context, req *CreateDecisionRequest) (*models.UnderwritingDecision, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	switch req.Status {
	case models.DecisionStatusDeclined, models.DecisionStatusUnqualified:
		return s.upsertTerminal(ctx, req.BusinessEmail, req.BusinessName, req.Status,
			req.DeclineReason, req.FollowUpWorthy, req.FollowUpDate)
	}

	existing, err := s.GetByEmail(ctx, req.BusinessEmail)
	if err == nil {
		updates := map[string]interface{}{
			"business_name": req.BusinessName,
			"status":        req.Status,
			"version":       existing.Version + 1,
		}
		res := s.db.WithContext(ctx).Model(&models.UnderwritingDecision{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update underwriting decision: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrVersionConflict
		}
		return s.GetByID(ctx, existing.ID)
	}
	if !errors.Is(err, ErrDecisionNotFound) {
		return nil, err
	}

	decision := &models.UnderwritingDecision{
		BusinessEmail: req.BusinessEmail,
		BusinessName:  req.BusinessName,
		Status:        req.Status,
		Version:       1,
	}
	if req.Status == models.DecisionStatusApproved || req.Status == models.DecisionStatusFunded {
		slug, err := utils.GenerateApprovalSlug()
		if err != nil {
			return nil, fmt.Errorf("failed to generate approval slug: %w", err)
		}
		decision.ApprovalSlug = slug
	}

	if err := s.db.WithContext(ctx).Create(decision).Error; err != nil {
		if isUniqueViolation(err) {
			// A concurrent session created the record between our read and
			// this insert.
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to create underwriting decision: %w", err)
	}

	go s.notifyDecision(decision, string(req.Status))

	return decision, nil
}

// Update is the store-contract PATCH. When expectedVersion is supplied
// (If-Match) the write is conditional; either way the version advances so
// concurrent conditional writers get invalidated.
func (s *DecisionService) Update(ctx context.Context, id uuid.UUID, patch *DecisionPatch, expectedVersion *int) (*models.UnderwritingDecision, error) {
	if err := utils.ValidateStruct(patch); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	decision, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	baseVersion := decision.Version
	if expectedVersion != nil {
		baseVersion = *expectedVersion
	}

	updates := map[string]interface{}{"version": baseVersion + 1}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.AdditionalApprovals != nil {
		updates["additional_approvals"] = patch.AdditionalApprovals
	}
	if patch.DeclineReason != nil {
		updates["decline_reason"] = *patch.DeclineReason
	}
	if patch.FollowUpWorthy != nil {
		updates["follow_up_worthy"] = *patch.FollowUpWorthy
	}
	if patch.FollowUpDate != nil {
		if *patch.FollowUpDate == "" {
			updates["follow_up_date"] = nil
		} else {
			t, err := normalizeFollowUpDate(*patch.FollowUpDate)
			if err != nil {
				return nil, err
			}
			updates["follow_up_date"] = t
		}
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
	}

	res := s.db.WithContext(ctx).Model(&models.UnderwritingDecision{}).
		Where("id = ? AND version = ?", id, baseVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update underwriting decision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	return s.GetByID(ctx, id)
}

func (s *DecisionService) createApprovedDecision(ctx context.Context, businessEmail, businessName string, input *ApprovalInput) ([]models.ApprovalEntry, error) {
	slug, err := utils.GenerateApprovalSlug()
	if err != nil {
		return nil, fmt.Errorf("failed to generate approval slug: %w", err)
	}

	entry := entryFromInput(input, uuid.New().String(), true, time.Now())
	decision := &models.UnderwritingDecision{
		BusinessEmail: businessEmail,
		BusinessName:  businessName,
		Status:        models.DecisionStatusApproved,
		ApprovalSlug:  slug,
		Version:       1,
	}
	if err := decision.SetApprovals([]models.ApprovalEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to encode approvals: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(decision).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to create underwriting decision: %w", err)
	}

	go s.notifyDecision(decision, "approved")

	return []models.ApprovalEntry{entry}, nil
}

func (s *DecisionService) upsertTerminal(ctx context.Context, businessEmail, businessName string, status models.DecisionStatus, reason string, followUpWorthy bool, followUpDate string) (*models.UnderwritingDecision, error) {
	var followUp *time.Time
	if followUpWorthy && followUpDate != "" {
		t, err := normalizeFollowUpDate(followUpDate)
		if err != nil {
			return nil, err
		}
		followUp = t
	}

	decision, err := s.GetByEmail(ctx, businessEmail)
	if errors.Is(err, ErrDecisionNotFound) {
		decision = &models.UnderwritingDecision{
			BusinessEmail:  businessEmail,
			BusinessName:   businessName,
			Status:         status,
			DeclineReason:  reason,
			FollowUpWorthy: followUpWorthy,
			FollowUpDate:   followUp,
			Version:        1,
		}
		if err := s.db.WithContext(ctx).Create(decision).Error; err != nil {
			if isUniqueViolation(err) {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("failed to create underwriting decision: %w", err)
		}
		go s.notifyDecision(decision, string(status))
		return decision, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"business_name":    businessName,
		"status":           status,
		"decline_reason":   reason,
		"follow_up_worthy": followUpWorthy,
		"follow_up_date":   followUp,
		"version":          decision.Version + 1,
	}
	res := s.db.WithContext(ctx).Model(&models.UnderwritingDecision{}).
		Where("id = ? AND version = ?", decision.ID, decision.Version).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update underwriting decision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrVersionConflict
	}

	go s.notifyDecision(decision, string(status))

	return s.GetByID(ctx, decision.ID)
}

// saveApprovals persists the full canonical list in one conditional write.
// Either the whole list lands or the store is untouched.
func (s *DecisionService) saveApprovals(ctx context.Context, decision *models.UnderwritingDecision, entries []models.ApprovalEntry) error {
	if err := decision.SetApprovals(entries); err != nil {
		return fmt.Errorf("failed to encode approvals: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.UnderwritingDecision{}).
		Where("id = ? AND version = ?", decision.ID, decision.Version).
		Updates(map[string]interface{}{
			"additional_approvals": decision.AdditionalApprovals,
			"version":              decision.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to save approvals: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	decision.Version++
	return nil
}

func (s *DecisionService) notifyDecision(decision *models.UnderwritingDecision, event string) {
	if s.notificationService != nil {
		s.notificationService.SendDecisionNotification(decision, event)
	}
}

func entryFromInput(input *ApprovalInput, id string, isPrimary bool, createdAt time.Time) models.ApprovalEntry {
	frequency := input.PaymentFrequency
	if frequency == "" {
		frequency = "weekly"
	}
	return models.ApprovalEntry{
		ID:               id,
		Lender:           input.Lender,
		AdvanceAmount:    input.AdvanceAmount,
		Term:             input.Term,
		PaymentFrequency: frequency,
		FactorRate:       input.FactorRate,
		MaxUpsell:        input.MaxUpsell,
		TotalPayback:     input.TotalPayback,
		NetAfterFees:     input.NetAfterFees,
		Notes:            input.Notes,
		ApprovalDate:     input.ApprovalDate,
		IsPrimary:        isPrimary,
		CreatedAt:        createdAt,
	}
}

func indexOfApproval(entries []models.ApprovalEntry, id string) int {
	for i, entry := range entries {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

// normalizeFollowUpDate pins the plain date to midday UTC so rendering in
// any timezone keeps the chosen calendar day.
func normalizeFollowUpDate(date string) (*time.Time, error) {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid follow-up date %q: %w", date, err)
	}
	t := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, time.UTC)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
