package milestone

import (
	"time"

	"gorm.io/datatypes"
)

type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "PENDING"
	MilestoneStatusInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneStatusApproved   MilestoneStatus = "APPROVED"
	MilestoneStatusReleased   MilestoneStatus = "RELEASED"
	MilestoneStatusPaid       MilestoneStatus = "PAID"
)

var validTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:    {MilestoneStatusInProgress},
	MilestoneStatusInProgress: {MilestoneStatusApproved},
	MilestoneStatusApproved:   {MilestoneStatusReleased},
	MilestoneStatusReleased:   {MilestoneStatusPaid},
	MilestoneStatusPaid:       {},
}

func CanTransition(from, to MilestoneStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Milestone is a fundable unit of work inside a campaign. Each milestone may
// carry its own escrow contract, separate from the campaign-level one.
type Milestone struct {
	MilestoneID   string          `gorm:"column:milestone_id;primaryKey;type:char(26)" json:"milestone_id"`
	CampaignID    string          `gorm:"column:campaign_id;index;not null" json:"campaign_id"`
	Title         string          `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Description   string          `gorm:"column:description;type:text" json:"description"`
	Amount        int64           `gorm:"column:amount;not null" json:"amount"`
	Currency      string          `gorm:"column:currency;type:varchar(12);not null;default:'USDC'" json:"currency"`
	Status        MilestoneStatus `gorm:"column:status;type:varchar(50);not null;default:'PENDING'" json:"status"`
	EscrowID      *string         `gorm:"column:escrow_id;index" json:"escrow_id,omitempty"`
	WalletAddress string          `gorm:"column:wallet_address" json:"wallet_address"`
	Metadata      datatypes.JSON  `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *Milestone) HasEscrow() bool {
	return m.EscrowID != nil && *m.EscrowID != ""
}
