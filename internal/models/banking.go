// internal/models/banking.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// BankConnection records that a business linked its bank through the data
// aggregator. Only the metadata lives here; the aggregator itself is an
// external service.
type BankConnection struct {
	BaseModel
	BusinessEmail   string           `json:"business_email" gorm:"size:255;not null;index"`
	BusinessName    string           `json:"business_name" gorm:"size:255"`
	InstitutionName string           `json:"institution_name" gorm:"size:255;not null"`
	ProviderItemID  string           `json:"-" gorm:"size:255"`
	Status          ConnectionStatus `json:"status" gorm:"type:varchar(20);not null;default:'active'"`
	LastSyncedAt    *time.Time       `json:"last_synced_at"`
}

// StatementUpload is one uploaded bank statement awaiting review.
type StatementUpload struct {
	BaseModel
	BusinessEmail string       `json:"business_email" gorm:"size:255;not null;index"`
	BusinessName  string       `json:"business_name" gorm:"size:255"`
	FileName      string       `json:"file_name" gorm:"size:255;not null"`
	FileKey       string       `json:"file_key" gorm:"size:512;not null"`
	FileURL       string       `json:"file_url" gorm:"size:1024"`
	FileSize      int64        `json:"file_size"`
	MonthLabel    string       `json:"month_label" gorm:"size:20"`
	Status        UploadStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	UploadedBy    *uuid.UUID   `json:"uploaded_by" gorm:"type:uuid"`
	ReviewedBy    *uuid.UUID   `json:"reviewed_by" gorm:"type:uuid"`
	ReviewedAt    *time.Time   `json:"reviewed_at"`

	Reviewer *User `json:"reviewer,omitempty" gorm:"foreignKey:ReviewedBy"`
}
