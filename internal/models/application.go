// internal/models/application.go
package models

import "github.com/google/uuid"

// LoanApplication is the intake record a business submits before
// underwriting. Stage tracks the multi-step form: the short intake form
// creates the row, the full application completes it.
type LoanApplication struct {
	BaseModel
	BusinessName    string            `json:"business_name" gorm:"size:255;not null"`
	BusinessEmail   string            `json:"business_email" gorm:"size:255;not null;index"`
	OwnerName       string            `json:"owner_name" gorm:"size:255"`
	Phone           string            `json:"phone" gorm:"size:50"`
	Industry        string            `json:"industry" gorm:"size:100"`
	RequestedAmount string            `json:"requested_amount" gorm:"size:50"`
	MonthlyRevenue  string            `json:"monthly_revenue" gorm:"size:50"`
	TimeInBusiness  string            `json:"time_in_business" gorm:"size:50"`
	Stage           ApplicationStage  `json:"stage" gorm:"type:varchar(20);not null;default:'intake'"`
	Status          ApplicationStatus `json:"status" gorm:"type:varchar(20);not null;default:'new';index"`
	FormData        JSONB             `json:"form_data" gorm:"type:jsonb"`
	AssignedAgentID *uuid.UUID        `json:"assigned_agent_id" gorm:"type:uuid"`

	AssignedAgent *User `json:"assigned_agent,omitempty" gorm:"foreignKey:AssignedAgentID"`
}
