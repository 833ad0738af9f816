// internal/handlers/decisions.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fundingdesk/underwriting-backend/internal/i18n"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/services"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

type DecisionHandler struct {
	decisionService *services.DecisionService
}

func NewDecisionHandler(decisionService *services.DecisionService) *DecisionHandler {
	return &DecisionHandler{
		decisionService: decisionService,
	}
}

type recordApprovalRequest struct {
	services.ApprovalInput
	BusinessName string `json:"businessName,omitempty"`
	EditingID    string `json:"editingId,omitempty"`
}

type terminalDecisionRequest struct {
	BusinessName   string `json:"businessName,omitempty"`
	Reason         string `json:"reason" validate:"required"`
	FollowUpWorthy bool   `json:"followUpWorthy,omitempty"`
	FollowUpDate   string `json:"followUpDate,omitempty" validate:"omitempty,plain_date"`
}

// decisionView is the dashboard shape of a decision: the stored blob is
// replaced with the reconciled approvals list.
type decisionView struct {
	*models.UnderwritingDecision
	Approvals []models.ApprovalEntry `json:"approvals"`
}

func newDecisionView(d *models.UnderwritingDecision) decisionView {
	return decisionView{
		UnderwritingDecision: d,
		Approvals:            d.ReconcileApprovals(),
	}
}

// GET /underwriting-decisions
func (h *DecisionHandler) List(c *gin.Context) {
	role := models.UserType("")
	if userType, exists := utils.GetUserTypeFromContext(c); exists {
		role = models.UserType(userType)
	}

	decisions, err := h.decisionService.List(c.Request.Context(), role)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	views := make([]decisionView, 0, len(decisions))
	for i := range decisions {
		views = append(views, newDecisionView(&decisions[i]))
	}

	utils.SuccessResponse(c, gin.H{
		"decisions": views,
		"total":     len(views),
	})
}

// POST /underwriting-decisions
func (h *DecisionHandler) Create(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.CreateDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	decision, err := h.decisionService.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"decision": newDecisionView(decision),
	})
}

// GET /underwriting-decisions/:id
func (h *DecisionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid decision ID", nil)
		return
	}

	decision, err := h.decisionService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("ETag", strconv.Itoa(decision.Version))
	utils.SuccessResponse(c, gin.H{
		"decision": newDecisionView(decision),
	})
}

// PATCH /underwriting-decisions/:id
func (h *DecisionHandler) Update(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid decision ID", nil)
		return
	}

	var patch services.DecisionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	var expectedVersion *int
	if match := c.GetHeader("If-Match"); match != "" {
		v, err := strconv.Atoi(match)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid If-Match header", nil)
			return
		}
		expectedVersion = &v
	}

	decision, err := h.decisionService.Update(c.Request.Context(), id, &patch, expectedVersion)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("ETag", strconv.Itoa(decision.Version))
	utils.SuccessResponse(c, gin.H{
		"decision": newDecisionView(decision),
	})
}

// DELETE /underwriting-decisions/:id
func (h *DecisionHandler) Reset(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid decision ID", nil)
		return
	}

	if err := h.decisionService.ResetDecision(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyDecisionReset),
	})
}

// GET /businesses/:email/decision
func (h *DecisionHandler) GetByEmail(c *gin.Context) {
	decision, err := h.decisionService.GetByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"decision": newDecisionView(decision),
	})
}

// POST /businesses/:email/approvals
func (h *DecisionHandler) RecordApproval(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req recordApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req.ApprovalInput)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	entries, err := h.decisionService.RecordApproval(
		c.Request.Context(), c.Param("email"), req.BusinessName, &req.ApprovalInput, req.EditingID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyApprovalRecorded),
		"approvals": entries,
	})
}

// POST /businesses/:email/approvals/:approvalId/primary
func (h *DecisionHandler) SetPrimary(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	entries, err := h.decisionService.SetPrimary(c.Request.Context(), c.Param("email"), c.Param("approvalId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ApprovalEntry{}
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyApprovalPrimarySet),
		"approvals": entries,
	})
}

// DELETE /businesses/:email/approvals/:approvalId
func (h *DecisionHandler) DeleteApproval(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	entries, err := h.decisionService.DeleteApproval(c.Request.Context(), c.Param("email"), c.Param("approvalId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ApprovalEntry{}
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyApprovalDeleted),
		"approvals": entries,
	})
}

// POST /businesses/:email/decline
func (h *DecisionHandler) RecordDecline(c *gin.Context) {
	h.recordTerminal(c, models.DecisionStatusDeclined)
}

// POST /businesses/:email/unqualified
func (h *DecisionHandler) RecordUnqualified(c *gin.Context) {
	h.recordTerminal(c, models.DecisionStatusUnqualified)
}

func (h *DecisionHandler) recordTerminal(c *gin.Context, status models.DecisionStatus) {
	lang := utils.GetLangFromContext(c)

	var req terminalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	var (
		decision *models.UnderwritingDecision
		err      error
		key      string
	)
	if status == models.DecisionStatusDeclined {
		decision, err = h.decisionService.RecordDecline(
			c.Request.Context(), c.Param("email"), req.BusinessName, req.Reason, req.FollowUpWorthy, req.FollowUpDate)
		key = i18n.KeyDecisionDeclined
	} else {
		decision, err = h.decisionService.RecordUnqualified(
			c.Request.Context(), c.Param("email"), req.BusinessName, req.Reason, req.FollowUpWorthy, req.FollowUpDate)
		key = i18n.KeyDecisionUnqualified
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":  i18n.T(lang, key),
		"decision": newDecisionView(decision),
	})
}

// POST /businesses/:email/fund
func (h *DecisionHandler) MarkFunded(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	decision, err := h.decisionService.MarkFunded(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyDecisionFunded),
		"decision": newDecisionView(decision),
	})
}

// GET /approval-letters/:slug (public)
func (h *DecisionHandler) GetApprovalLetter(c *gin.Context) {
	decision, err := h.decisionService.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, services.ErrDecisionNotFound) {
			utils.NotFoundResponse(c, i18n.KeyLetterNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	primary := decision.PrimaryApproval()
	if primary == nil {
		utils.NotFoundResponse(c, i18n.KeyLetterNotFound)
		return
	}

	// The letter only carries what the business is allowed to see.
	c.JSON(http.StatusOK, utils.APIResponse{
		Success: true,
		Data: gin.H{
			"businessName": decision.BusinessName,
			"status":       decision.Status,
			"approval":     primary,
			"issuedAt":     decision.UpdatedAt,
		},
	})
}

func (h *DecisionHandler) respondError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	switch {
	case errors.Is(err, services.ErrDecisionNotFound):
		utils.NotFoundResponse(c, i18n.KeyDecisionNotFound)
	case errors.Is(err, services.ErrApprovalNotFound):
		utils.NotFoundResponse(c, i18n.KeyApprovalNotFound)
	case errors.Is(err, services.ErrVersionConflict):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyDecisionConflict))
	default:
		if validationErrors := utils.GetValidationErrors(err); len(validationErrors) > 0 {
			utils.ValidationErrorResponse(c, validationErrors)
			return
		}
		utils.InternalErrorResponse(c, "")
	}
}
