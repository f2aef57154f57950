package newsletter

import (
	"time"

	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ProcessingRun is the ledger row written after each pipeline run.
type ProcessingRun struct {
	ID      string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Subject string    `gorm:"type:text;not null;default:''" json:"subject"`
	Sender  string    `gorm:"type:text;not null;default:'';index" json:"sender"`
	Status  RunStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	FailedStep string `gorm:"type:varchar(64);not null;default:''" json:"failed_step,omitempty"`

	EntitiesTotal   int `gorm:"not null;default:0" json:"entities_total"`
	EntitiesCreated int `gorm:"not null;default:0" json:"entities_created"`
	EntitiesUpdated int `gorm:"not null;default:0" json:"entities_updated"`

	EntitySummary datatypes.JSON `json:"entity_summary"`
	Warnings      datatypes.JSON `json:"warnings"`
	Metadata      datatypes.JSON `json:"metadata"`

	ElapsedMillis int64     `gorm:"not null;default:0" json:"elapsed_ms"`
	ReceivedDate  time.Time `json:"received_date"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (ProcessingRun) TableName() string { return "processing_run" }
