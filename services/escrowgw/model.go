package escrowgw

import "fmt"

// EscrowState is the contract lifecycle reported by the escrow service.
type EscrowState string

const (
	EscrowStatePending  EscrowState = "pending"
	EscrowStateFunded   EscrowState = "funded"
	EscrowStateReleased EscrowState = "released"
	EscrowStateDisputed EscrowState = "disputed"
)

// CreateParams declares the roles and terms of a new single-release escrow
// contract. The approver doubles as release signer and the platform address
// doubles as dispute resolver.
type CreateParams struct {
	EngagementID string
	Title        string
	Description  string
	Amount       string
	Currency     string
	Approver     string
	Receiver     string
}

// CreateResult carries either a ready contract id (synchronous creation) or
// an unsigned envelope the funder must sign before the contract exists. Both
// outcomes are valid; callers branch on which field is set.
type CreateResult struct {
	ContractID  string
	UnsignedXDR string
	Status      EscrowState
}

// TxResult is a prepared transaction for one release step or funding action.
type TxResult struct {
	ContractID      string
	UnsignedXDR     string
	AlreadyApproved bool
}

// EscrowStatus is the point-in-time view of one contract.
type EscrowStatus struct {
	ContractID string
	Balance    string
	Status     EscrowState
}

// Contract is a contract record returned by engagement or signer lookups.
type Contract struct {
	ContractID   string
	EngagementID string
	Balance      string
	Status       EscrowState
	Signer       string
}

// CampaignEngagementID derives the canonical engagement key for a campaign.
func CampaignEngagementID(campaignID string) string {
	return fmt.Sprintf("campaign-%s", campaignID)
}

// MilestoneEngagementID derives the canonical engagement key for a milestone.
func MilestoneEngagementID(milestoneID string) string {
	return fmt.Sprintf("milestone-%s", milestoneID)
}
