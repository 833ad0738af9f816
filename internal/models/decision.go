// internal/models/decision.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawApprovals holds the stored additional_approvals blob without committing
// to a shape. Older records hold a loose list written by the dashboard before
// the multi-approval feature; newer records hold canonical ApprovalEntry
// objects. ReconcileApprovals is the only reader.
type RawApprovals json.RawMessage

func (r RawApprovals) Value() (driver.Value, error) {
	if len(r) == 0 {
		return nil, nil
	}
	return []byte(r), nil
}

func (r *RawApprovals) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*r = append((*r)[:0], v...)
	case string:
		*r = RawApprovals(v)
	}
	return nil
}

func (r RawApprovals) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

func (r *RawApprovals) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// UnderwritingDecision is the one-per-business underwriting record. The
// business email is the stable join key across applications, statement
// uploads, bank connections and decisions; matching is case-insensitive.
//
// The top-level lender/advance fields are the legacy single-approval shape
// kept for records written before the multi-approval list existed. The wire
// shape is camelCase because the stored blobs and the dashboard contract
// predate this service.
type UnderwritingDecision struct {
	BaseModel
	BusinessEmail string         `json:"businessEmail" gorm:"uniqueIndex;size:255;not null"`
	BusinessName  string         `json:"businessName" gorm:"size:255;not null"`
	Status        DecisionStatus `json:"status" gorm:"type:varchar(20);not null;index"`

	// Legacy primary-approval fields, redundant with the approvals list.
	Lender           string     `json:"lender,omitempty" gorm:"size:255"`
	AdvanceAmount    string     `json:"advanceAmount,omitempty" gorm:"size:50"`
	Term             string     `json:"term,omitempty" gorm:"size:50"`
	PaymentFrequency string     `json:"paymentFrequency,omitempty" gorm:"size:20"`
	FactorRate       string     `json:"factorRate,omitempty" gorm:"size:20"`
	MaxUpsell        string     `json:"maxUpsell,omitempty" gorm:"size:50"`
	TotalPayback     string     `json:"totalPayback,omitempty" gorm:"size:50"`
	NetAfterFees     string     `json:"netAfterFees,omitempty" gorm:"size:50"`
	Notes            string     `json:"notes,omitempty" gorm:"type:text"`
	ApprovalDate     *time.Time `json:"approvalDate,omitempty"`

	AdditionalApprovals RawApprovals `json:"additionalApprovals,omitempty" gorm:"type:jsonb"`

	DeclineReason  string     `json:"declineReason,omitempty" gorm:"type:text"`
	FollowUpWorthy bool       `json:"followUpWorthy" gorm:"default:false"`
	FollowUpDate   *time.Time `json:"followUpDate,omitempty"`

	// Public approval-letter token, set once the business is approved/funded.
	ApprovalSlug string `json:"approvalSlug,omitempty" gorm:"size:64;index"`

	// Optimistic-lock counter. Every approvals-list write is conditional on
	// the version it was derived from; a mismatch means a concurrent editor
	// won the race and the caller must re-read.
	Version int `json:"version" gorm:"not null;default:1"`

	DecidedBy *uuid.UUID `json:"decidedBy,omitempty" gorm:"type:uuid"`
}

func (UnderwritingDecision) TableName() string {
	return "underwriting_decisions"
}

// SetApprovals replaces the stored blob with the canonical list. From this
// point on the record round-trips through the canonical fast path of
// ReconcileApprovals and the migrated IDs/timestamps are stable.
func (d *UnderwritingDecision) SetApprovals(entries []ApprovalEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	d.AdditionalApprovals = RawApprovals(data)
	return nil
}
