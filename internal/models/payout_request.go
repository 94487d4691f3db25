package models

import "time"

// PayoutStatus defines lifecycle states for payout requests.
type PayoutStatus string

const (
	// PayoutStatusPending indicates the request is awaiting an approver.
	PayoutStatusPending PayoutStatus = "pending"
	// PayoutStatusApproved indicates the transfer was executed and recorded.
	PayoutStatusApproved PayoutStatus = "approved"
	// PayoutStatusRejected indicates an approver denied the request.
	PayoutStatusRejected PayoutStatus = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s PayoutStatus) Valid() bool {
	switch s {
	case PayoutStatusPending, PayoutStatusApproved, PayoutStatusRejected:
		return true
	}
	return false
}

// PayoutRequest is a request to pay Amount to UserID. Amount never changes
// after creation and rows are never deleted.
type PayoutRequest struct {
	ID              uint         `gorm:"primaryKey" json:"id"`
	UserID          int64        `gorm:"not null;index" json:"user_id"`
	Amount          int64        `gorm:"not null" json:"amount"`
	Reason          string       `gorm:"type:text;not null" json:"reason"`
	Status          PayoutStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	RejectionReason *string      `gorm:"type:text" json:"rejection_reason,omitempty"`
	ApproverID      *int64       `gorm:"column:approved_by_user_id" json:"approved_by_user_id,omitempty"`
	CreatedAt       time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TableName pins the table name used by existing deployments.
func (PayoutRequest) TableName() string {
	return "payout_requests"
}

// StatusChange is the outcome of a committed transition, handed to notifiers.
type StatusChange struct {
	RequestID       uint         `json:"request_id"`
	UserID          int64        `json:"user_id"`
	Amount          int64        `json:"amount"`
	Status          PayoutStatus `json:"status"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	OccurredAt      time.Time    `json:"occurred_at"`
}
