package escrow

import "time"

// ReleaseStep is one stage of the ordered release protocol. Each step's
// unsigned transaction is only constructible by the external gateway after it
// observes the previous step's on-chain effect, so ordering is strict.
type ReleaseStep string

const (
	StepChangeStatus ReleaseStep = "change_status"
	StepApprove      ReleaseStep = "approve"
	StepRelease      ReleaseStep = "release"
	StepPayout       ReleaseStep = "payout"
)

var stepOrder = []ReleaseStep{StepChangeStatus, StepApprove, StepRelease, StepPayout}

// StepIndex returns the step's position in the protocol, or -1 for an
// unknown step.
func StepIndex(step ReleaseStep) int {
	for i, s := range stepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// ReleaseCheckpoint records a completed step for one contract. Checkpoints
// make a halted release resumable: a step may only run when the previous
// step's checkpoint exists, and re-running a checkpointed step is refused.
type ReleaseCheckpoint struct {
	CheckpointID string      `gorm:"column:checkpoint_id;primaryKey;type:char(26)" json:"checkpoint_id"`
	ContractID   string      `gorm:"column:contract_id;index:idx_contract_step,unique;not null" json:"contract_id"`
	CampaignID   string      `gorm:"column:campaign_id;index;not null" json:"campaign_id"`
	MilestoneID  string      `gorm:"column:milestone_id;index" json:"milestone_id"`
	Step         ReleaseStep `gorm:"column:step;type:varchar(20);index:idx_contract_step,unique;not null" json:"step"`
	TxHash       string      `gorm:"column:tx_hash" json:"tx_hash"`
	CreatedAt    time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
