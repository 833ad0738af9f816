// internal/handlers/banking.go
package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fundingdesk/underwriting-backend/internal/i18n"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/services"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

type BankingHandler struct {
	bankingService      *services.BankingService
	storageService      *services.StorageService
	notificationService *services.NotificationService
}

func NewBankingHandler(bankingService *services.BankingService, storageService *services.StorageService, notificationService *services.NotificationService) *BankingHandler {
	return &BankingHandler{
		bankingService:      bankingService,
		storageService:      storageService,
		notificationService: notificationService,
	}
}

// POST /banking/connections
func (h *BankingHandler) RecordConnection(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	connection, err := h.bankingService.RecordConnection(c.Request.Context(), &req)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":    i18n.T(lang, i18n.KeyConnectionRecorded),
		"connection": connection,
	})
}

// GET /banking/connections
func (h *BankingHandler) ListConnections(c *gin.Context) {
	connections, err := h.bankingService.ListConnections(c.Request.Context(), c.Query("business_email"))
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"connections": connections,
		"total":       len(connections),
	})
}

// POST /banking/statements (multipart upload)
func (h *BankingHandler) UploadStatement(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "file"), nil)
		return
	}
	defer file.Close()

	req := services.StatementUploadRequest{
		BusinessEmail: c.PostForm("business_email"),
		BusinessName:  c.PostForm("business_name"),
		MonthLabel:    c.PostForm("month_label"),
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	result, err := h.storageService.UploadFile(file, header, services.StatementUploadOptions)
	if err != nil {
		utils.BadRequestResponse(c, err.Error(), nil)
		return
	}

	var uploadedBy *uuid.UUID
	if userIDStr, exists := utils.GetUserIDFromContext(c); exists {
		if userID, err := uuid.Parse(userIDStr); err == nil {
			uploadedBy = &userID
		}
	}

	statement, err := h.bankingService.RecordStatementUpload(c.Request.Context(), &req, result, uploadedBy)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyStatementUploaded),
		"statement": statement,
	})
}

// GET /banking/statements (staff)
func (h *BankingHandler) ListStatements(c *gin.Context) {
	var status *models.UploadStatus
	if s := c.Query("status"); s != "" {
		uploadStatus := models.UploadStatus(s)
		status = &uploadStatus
	}

	statements, err := h.bankingService.ListStatements(c.Request.Context(), c.Query("business_email"), status)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"statements": statements,
		"total":      len(statements),
	})
}

// PUT /banking/statements/:id/review (staff)
func (h *BankingHandler) ReviewStatement(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid statement ID", nil)
		return
	}

	var req struct {
		Approved bool `json:"approved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return
	}
	reviewerID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return
	}

	statement, err := h.bankingService.ReviewStatement(c.Request.Context(), id, req.Approved, reviewerID)
	if err != nil {
		if errors.Is(err, services.ErrStatementNotFound) {
			utils.NotFoundResponse(c, i18n.KeyStatementNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	if h.notificationService != nil {
		go h.notificationService.SendStatementReviewedNotification(statement)
	}

	utils.SuccessResponse(c, gin.H{
		"message":   i18n.T(lang, i18n.KeyStatementReviewed),
		"statement": statement,
	})
}

// GET /banking/statements/:id/download (staff)
func (h *BankingHandler) DownloadStatement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid statement ID", nil)
		return
	}

	statement, err := h.bankingService.GetStatement(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrStatementNotFound) {
			utils.NotFoundResponse(c, i18n.KeyStatementNotFound)
			return
		}
		utils.InternalErrorResponse(c, "")
		return
	}

	url, err := h.storageService.PresignedDownloadURL(statement.FileKey, 15*time.Minute)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"url":        url,
		"expires_in": int((15 * time.Minute).Seconds()),
	})
}

// GET /banking/pipeline (staff dashboard)
func (h *BankingHandler) GetPipelineSummary(c *gin.Context) {
	summary, err := h.bankingService.BuildPipelineSummary(c.Request.Context())
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, summary)
}
