package campaign

import (
	"time"

	"gorm.io/datatypes"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusReleasing CampaignStatus = "RELEASING"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

// validTransitions is the single authoritative transition table. Status never
// moves without a corresponding successful signed-and-submitted transaction
// or an explicit administrative action.
var validTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignStatusDraft:     {CampaignStatusActive, CampaignStatusCancelled},
	CampaignStatusActive:    {CampaignStatusReleasing, CampaignStatusCancelled},
	CampaignStatusReleasing: {CampaignStatusActive, CampaignStatusCompleted},
	CampaignStatusCompleted: {},
	CampaignStatusCancelled: {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Campaign is a corporation-funded grant campaign backed by an escrow
// contract. EscrowID transitions nil -> set exactly once under normal flow;
// only reconciliation may rewrite it.
type Campaign struct {
	CampaignID     string         `gorm:"column:campaign_id;primaryKey;type:char(26)" json:"campaign_id"`
	OrganizationID string         `gorm:"column:organization_id;index;not null" json:"organization_id"`
	Name           string         `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description    string         `gorm:"column:description;type:text" json:"description"`
	Cost           int64          `gorm:"column:cost;not null" json:"cost"`
	Currency       string         `gorm:"column:currency;type:varchar(12);not null;default:'USDC'" json:"currency"`
	Status         CampaignStatus `gorm:"column:status;type:varchar(50);not null;default:'DRAFT'" json:"status"`
	EscrowID       *string        `gorm:"column:escrow_id;index" json:"escrow_id,omitempty"`
	WalletAddress  string         `gorm:"column:wallet_address" json:"wallet_address"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// HasEscrow reports whether the campaign is already bound to a contract.
func (c *Campaign) HasEscrow() bool {
	return c.EscrowID != nil && *c.EscrowID != ""
}
