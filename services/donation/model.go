package donation

import "time"

type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "PENDING"
	DonationStatusConfirmed DonationStatus = "CONFIRMED"
)

// Donation is a funding contribution into a campaign's escrow. Hash stays
// nil until the donor's signed funding transaction lands, and is written at
// most once. A nil-hash row is a legitimate abandoned-signature state that a
// later attempt reuses instead of duplicating.
type Donation struct {
	DonationID    string         `gorm:"column:donation_id;primaryKey;type:char(26)" json:"donation_id"`
	CampaignID    string         `gorm:"column:campaign_id;index;not null" json:"campaign_id"`
	DonorID       string         `gorm:"column:donor_id;index;not null" json:"donor_id"`
	WalletAddress string         `gorm:"column:wallet_address;not null" json:"wallet_address"`
	Amount        int64          `gorm:"column:amount;not null" json:"amount"`
	Currency      string         `gorm:"column:currency;type:varchar(12);not null;default:'USDC'" json:"currency"`
	Hash          *string        `gorm:"column:hash" json:"hash,omitempty"`
	Status        DonationStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'" json:"status"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (d *Donation) Confirmed() bool {
	return d.Hash != nil && *d.Hash != ""
}
