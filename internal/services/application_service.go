// internal/services/application_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fundingdesk/underwriting-backend/internal/config"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

var ErrApplicationNotFound = errors.New("loan application not found")

type ApplicationService struct {
	db  *gorm.DB
	cfg *config.Config
}

type IntakeRequest struct {
	BusinessName    string `json:"business_name" validate:"required"`
	BusinessEmail   string `json:"business_email" validate:"required,email"`
	OwnerName       string `json:"owner_name" validate:"required"`
	Phone           string `json:"phone,omitempty"`
	RequestedAmount string `json:"requested_amount" validate:"required,decimal_string"`
	MonthlyRevenue  string `json:"monthly_revenue" validate:"required,decimal_string"`
}

type FullApplicationRequest struct {
	Industry       string                 `json:"industry,omitempty"`
	TimeInBusiness string                 `json:"time_in_business,omitempty"`
	FormData       map[string]interface{} `json:"form_data,omitempty"`
}

type ApplicationSearchParams struct {
	utils.PaginationParams
	Stage  *models.ApplicationStage  `json:"stage,omitempty"`
	Status *models.ApplicationStatus `json:"status,omitempty"`
}

// ApplicationView decorates an application with the revenue qualification
// flag the dashboard shows next to each row.
type ApplicationView struct {
	models.LoanApplication
	MeetsRevenueMinimum bool `json:"meets_revenue_minimum"`
}

func NewApplicationService(db *gorm.DB, cfg *config.Config) *ApplicationService {
	return &ApplicationService{db: db, cfg: cfg}
}

// SubmitIntake creates the application from the short first-step form.
func (s *ApplicationService) SubmitIntake(ctx context.Context, req *IntakeRequest) (*models.LoanApplication, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	application := &models.LoanApplication{
		BusinessName:    req.BusinessName,
		BusinessEmail:   strings.ToLower(strings.TrimSpace(req.BusinessEmail)),
		OwnerName:       req.OwnerName,
		Phone:           req.Phone,
		RequestedAmount: req.RequestedAmount,
		MonthlyRevenue:  req.MonthlyRevenue,
		Stage:           models.ApplicationStageIntake,
		Status:          models.ApplicationStatusNew,
	}

	if err := s.db.WithContext(ctx).Create(application).Error; err != nil {
		return nil, fmt.Errorf("failed to create loan application: %w", err)
	}

	return application, nil
}

// CompleteApplication merges the full-application step into an intake row.
func (s *ApplicationService) CompleteApplication(ctx context.Context, id uuid.UUID, req *FullApplicationRequest) (*models.LoanApplication, error) {
	var application models.LoanApplication
	if err := s.db.WithContext(ctx).First(&application, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	application.Industry = req.Industry
	application.TimeInBusiness = req.TimeInBusiness
	application.Stage = models.ApplicationStageComplete
	application.Status = models.ApplicationStatusSubmitted
	if req.FormData != nil {
		if application.FormData == nil {
			application.FormData = make(models.JSONB)
		}
		for k, v := range req.FormData {
			application.FormData[k] = v
		}
	}

	if err := s.db.WithContext(ctx).Save(&application).Error; err != nil {
		return nil, fmt.Errorf("failed to update loan application: %w", err)
	}

	return &application, nil
}

func (s *ApplicationService) GetApplication(ctx context.Context, id uuid.UUID) (*ApplicationView, error) {
	var application models.LoanApplication
	if err := s.db.WithContext(ctx).Preload("AssignedAgent").First(&application, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	view := s.decorate(application)
	return &view, nil
}

func (s *ApplicationService) SearchApplications(ctx context.Context, params ApplicationSearchParams) ([]ApplicationView, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.LoanApplication{})

	if params.Stage != nil {
		query = query.Where("stage = ?", *params.Stage)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Search != "" {
		like := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(business_name) LIKE ? OR LOWER(business_email) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count loan applications: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "business_name", "status"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var applications []models.LoanApplication
	if err := query.Find(&applications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch loan applications: %w", err)
	}

	views := make([]ApplicationView, 0, len(applications))
	for _, app := range applications {
		views = append(views, s.decorate(app))
	}

	return views, total, nil
}

func (s *ApplicationService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ApplicationStatus, agentID *uuid.UUID) (*models.LoanApplication, error) {
	var application models.LoanApplication
	if err := s.db.WithContext(ctx).First(&application, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	application.Status = status
	if agentID != nil {
		application.AssignedAgentID = agentID
	}

	if err := s.db.WithContext(ctx).Save(&application).Error; err != nil {
		return nil, fmt.Errorf("failed to update loan application: %w", err)
	}

	return &application, nil
}

func (s *ApplicationService) decorate(application models.LoanApplication) ApplicationView {
	revenue, err := strconv.ParseFloat(strings.ReplaceAll(application.MonthlyRevenue, ",", ""), 64)
	meets := err == nil && revenue >= s.cfg.Underwriting.MinMonthlyRevenue
	return ApplicationView{
		LoanApplication:     application,
		MeetsRevenueMinimum: meets,
	}
}
