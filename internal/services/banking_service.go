// internal/services/banking_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

var ErrStatementNotFound = errors.New("statement upload not found")

type BankingService struct {
	db *gorm.DB
}

type ConnectionRequest struct {
	BusinessEmail   string `json:"business_email" validate:"required,email"`
	BusinessName    string `json:"business_name,omitempty"`
	InstitutionName string `json:"institution_name" validate:"required"`
	ProviderItemID  string `json:"provider_item_id,omitempty"`
}

type StatementUploadRequest struct {
	BusinessEmail string `json:"business_email" validate:"required,email"`
	BusinessName  string `json:"business_name,omitempty"`
	MonthLabel    string `json:"month_label,omitempty"`
}

// BusinessPipelineRow groups everything known about one business by its
// case-insensitive email: decision status, statements, connections.
type BusinessPipelineRow struct {
	BusinessEmail     string                `json:"business_email"`
	BusinessName      string                `json:"business_name"`
	Status            models.DecisionStatus `json:"status"`
	UploadCount       int                   `json:"upload_count"`
	ApprovedUploads   int                   `json:"approved_uploads"`
	ConnectionCount   int                   `json:"connection_count"`
	PrimaryLender     string                `json:"primary_lender,omitempty"`
	PrimaryAdvance    string                `json:"primary_advance,omitempty"`
	HasApprovalLetter bool                  `json:"has_approval_letter"`
	LastActivityAt    time.Time             `json:"last_activity_at"`
}

type PipelineSummary struct {
	Businesses         []BusinessPipelineRow `json:"businesses"`
	StatusCounts       map[string]int        `json:"status_counts"`
	TotalPrimaryVolume float64               `json:"total_primary_volume"`
}

func NewBankingService(db *gorm.DB) *BankingService {
	return &BankingService{db: db}
}

func (s *BankingService) RecordConnection(ctx context.Context, req *ConnectionRequest) (*models.BankConnection, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	connection := &models.BankConnection{
		BusinessEmail:   strings.ToLower(strings.TrimSpace(req.BusinessEmail)),
		BusinessName:    req.BusinessName,
		InstitutionName: req.InstitutionName,
		ProviderItemID:  req.ProviderItemID,
		Status:          models.ConnectionStatusActive,
	}

	if err := s.db.WithContext(ctx).Create(connection).Error; err != nil {
		return nil, fmt.Errorf("failed to record bank connection: %w", err)
	}

	return connection, nil
}

func (s *BankingService) ListConnections(ctx context.Context, businessEmail string) ([]models.BankConnection, error) {
	query := s.db.WithContext(ctx).Model(&models.BankConnection{}).Order("created_at DESC")
	if businessEmail != "" {
		query = query.Where("LOWER(business_email) = LOWER(?)", businessEmail)
	}

	var connections []models.BankConnection
	if err := query.Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch bank connections: %w", err)
	}
	return connections, nil
}

func (s *BankingService) RecordStatementUpload(ctx context.Context, req *StatementUploadRequest, upload *UploadResult, uploadedBy *uuid.UUID) (*models.StatementUpload, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	statement := &models.StatementUpload{
		BusinessEmail: strings.ToLower(strings.TrimSpace(req.BusinessEmail)),
		BusinessName:  req.BusinessName,
		FileName:      upload.FileName,
		FileKey:       upload.Key,
		FileURL:       upload.URL,
		FileSize:      upload.Size,
		MonthLabel:    req.MonthLabel,
		Status:        models.UploadStatusPending,
		UploadedBy:    uploadedBy,
	}

	if err := s.db.WithContext(ctx).Create(statement).Error; err != nil {
		return nil, fmt.Errorf("failed to record statement upload: %w", err)
	}

	return statement, nil
}

func (s *BankingService) ReviewStatement(ctx context.Context, id uuid.UUID, approved bool, reviewerID uuid.UUID) (*models.StatementUpload, error) {
	var statement models.StatementUpload
	if err := s.db.WithContext(ctx).First(&statement, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	now := time.Now()
	if approved {
		statement.Status = models.UploadStatusApproved
	} else {
		statement.Status = models.UploadStatusRejected
	}
	statement.ReviewedBy = &reviewerID
	statement.ReviewedAt = &now

	if err := s.db.WithContext(ctx).Save(&statement).Error; err != nil {
		return nil, fmt.Errorf("failed to update statement upload: %w", err)
	}

	return &statement, nil
}

func (s *BankingService) GetStatement(ctx context.Context, id uuid.UUID) (*models.StatementUpload, error) {
	var statement models.StatementUpload
	if err := s.db.WithContext(ctx).First(&statement, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStatementNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &statement, nil
}

func (s *BankingService) ListStatements(ctx context.Context, businessEmail string, status *models.UploadStatus) ([]models.StatementUpload, error) {
	query := s.db.WithContext(ctx).Model(&models.StatementUpload{}).Order("created_at DESC")
	if businessEmail != "" {
		query = query.Where("LOWER(business_email) = LOWER(?)", businessEmail)
	}
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var statements []models.StatementUpload
	if err := query.Find(&statements).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch statement uploads: %w", err)
	}
	return statements, nil
}

// BuildPipelineSummary joins decisions, uploads and connections on the
// lowercased business email and derives the dashboard's headline stats.
func (s *BankingService) BuildPipelineSummary(ctx context.Context) (*PipelineSummary, error) {
	var decisions []models.UnderwritingDecision
	if err := s.db.WithContext(ctx).Find(&decisions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch underwriting decisions: %w", err)
	}

	var uploads []models.StatementUpload
	if err := s.db.WithContext(ctx).Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch statement uploads: %w", err)
	}

	var connections []models.BankConnection
	if err := s.db.WithContext(ctx).Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch bank connections: %w", err)
	}

	rows := make(map[string]*BusinessPipelineRow)
	rowFor := func(email, name string) *BusinessPipelineRow {
		key := strings.ToLower(email)
		row, ok := rows[key]
		if !ok {
			row = &BusinessPipelineRow{
				BusinessEmail: key,
				BusinessName:  name,
				Status:        models.DecisionStatusPending,
			}
			rows[key] = row
		}
		if row.BusinessName == "" {
			row.BusinessName = name
		}
		return row
	}

	summary := &PipelineSummary{StatusCounts: make(map[string]int)}

	for i := range decisions {
		d := &decisions[i]
		row := rowFor(d.BusinessEmail, d.BusinessName)
		row.Status = d.Status
		row.HasApprovalLetter = d.ApprovalSlug != ""
		if d.UpdatedAt.After(row.LastActivityAt) {
			row.LastActivityAt = d.UpdatedAt
		}
		if primary := d.PrimaryApproval(); primary != nil {
			row.PrimaryLender = primary.Lender
			row.PrimaryAdvance = primary.AdvanceAmount
			if amount, err := strconv.ParseFloat(strings.ReplaceAll(primary.AdvanceAmount, ",", ""), 64); err == nil {
				summary.TotalPrimaryVolume += amount
			}
		}
	}

	for i := range uploads {
		u := &uploads[i]
		row := rowFor(u.BusinessEmail, u.BusinessName)
		row.UploadCount++
		if u.Status == models.UploadStatusApproved {
			row.ApprovedUploads++
		}
		if u.UpdatedAt.After(row.LastActivityAt) {
			row.LastActivityAt = u.UpdatedAt
		}
	}

	for i := range connections {
		c := &connections[i]
		row := rowFor(c.BusinessEmail, c.BusinessName)
		row.ConnectionCount++
		if c.UpdatedAt.After(row.LastActivityAt) {
			row.LastActivityAt = c.UpdatedAt
		}
	}

	for _, row := range rows {
		summary.Businesses = append(summary.Businesses, *row)
		summary.StatusCounts[string(row.Status)]++
	}

	return summary, nil
}
