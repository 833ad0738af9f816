// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		if s, sok := value.(string); sok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserType string

const (
	UserTypeAdmin        UserType = "admin"
	UserTypeAgent        UserType = "agent"
	UserTypeUnderwriting UserType = "underwriting"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// DecisionStatus tracks a business through the underwriting pipeline.
// The absence of a decision record is treated as pending.
type DecisionStatus string

const (
	DecisionStatusPending     DecisionStatus = "pending"
	DecisionStatusApproved    DecisionStatus = "approved"
	DecisionStatusDeclined    DecisionStatus = "declined"
	DecisionStatusUnqualified DecisionStatus = "unqualified"
	DecisionStatusFunded      DecisionStatus = "funded"
)

type ApplicationStage string

const (
	ApplicationStageIntake   ApplicationStage = "intake"
	ApplicationStageComplete ApplicationStage = "complete"
)

type ApplicationStatus string

const (
	ApplicationStatusNew       ApplicationStatus = "new"
	ApplicationStatusInReview  ApplicationStatus = "in_review"
	ApplicationStatusSubmitted ApplicationStatus = "submitted"
	ApplicationStatusArchived  ApplicationStatus = "archived"
)

type UploadStatus string

const (
	UploadStatusPending  UploadStatus = "pending"
	UploadStatusApproved UploadStatus = "approved"
	UploadStatusRejected UploadStatus = "rejected"
)

type ConnectionStatus string

const (
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)
