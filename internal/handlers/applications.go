// internal/handlers/applications.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fundingdesk/underwriting-backend/internal/i18n"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/services"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

type ApplicationHandler struct {
	applicationService *services.ApplicationService
}

func NewApplicationHandler(applicationService *services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
	}
}

// POST /applications (public intake)
func (h *ApplicationHandler) SubmitIntake(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.IntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	application, err := h.applicationService.SubmitIntake(c.Request.Context(), &req)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationReceived),
		"application": application,
	})
}

// PUT /applications/:id/complete (public second step)
func (h *ApplicationHandler) CompleteApplication(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid application ID", nil)
		return
	}

	var req services.FullApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	application, err := h.applicationService.CompleteApplication(c.Request.Context(), id, &req)
	if err != nil {
		if errors.Is(err, services.ErrApplicationNotFound) {
			utils.NotFoundResponse(c, i18n.KeyApplicationNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationCompleted),
		"application": application,
	})
}

// GET /applications/:id (staff)
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid application ID", nil)
		return
	}

	view, err := h.applicationService.GetApplication(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrApplicationNotFound) {
			utils.NotFoundResponse(c, i18n.KeyApplicationNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"application": view,
	})
}

// GET /applications (staff)
func (h *ApplicationHandler) SearchApplications(c *gin.Context) {
	params := services.ApplicationSearchParams{
		PaginationParams: utils.GetPaginationParams(c),
	}
	if stage := c.Query("stage"); stage != "" {
		s := models.ApplicationStage(stage)
		params.Stage = &s
	}
	if status := c.Query("status"); status != "" {
		s := models.ApplicationStatus(status)
		params.Status = &s
	}

	views, total, err := h.applicationService.SearchApplications(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	result := utils.CreatePaginationResult(views, total, params.PaginationParams)
	utils.PaginatedResponse(c, result)
}

// PUT /applications/:id/status (staff)
func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid application ID", nil)
		return
	}

	var req struct {
		Status  models.ApplicationStatus `json:"status" validate:"required,oneof=new in_review submitted archived"`
		AgentID *uuid.UUID               `json:"agent_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	application, err := h.applicationService.UpdateStatus(c.Request.Context(), id, req.Status, req.AgentID)
	if err != nil {
		if errors.Is(err, services.ErrApplicationNotFound) {
			utils.NotFoundResponse(c, i18n.KeyApplicationNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message":     i18n.T(lang, i18n.KeyApplicationUpdated),
		"application": application,
	})
}
