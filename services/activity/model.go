package activity

import (
	"time"

	"gorm.io/datatypes"
)

type EvidenceStatus string

const (
	EvidenceStatusNone      EvidenceStatus = "NONE"
	EvidenceStatusSubmitted EvidenceStatus = "SUBMITTED"
)

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "PENDING"
	ReviewStatusApproved ReviewStatus = "APPROVED"
	ReviewStatusRejected ReviewStatus = "REJECTED"
)

type ActivityStatus string

const (
	ActivityStatusPending           ActivityStatus = "PENDING"
	ActivityStatusUnderEvaluation   ActivityStatus = "UNDER_EVALUATION"
	ActivityStatusUnderVerification ActivityStatus = "UNDER_VERIFICATION"
	ActivityStatusVerified          ActivityStatus = "VERIFIED"
	ActivityStatusRejected          ActivityStatus = "REJECTED"
)

var validTransitions = map[ActivityStatus][]ActivityStatus{
	ActivityStatusPending:           {ActivityStatusUnderEvaluation},
	ActivityStatusUnderEvaluation:   {ActivityStatusUnderVerification, ActivityStatusRejected},
	ActivityStatusUnderVerification: {ActivityStatusVerified, ActivityStatusRejected},
	// Rejection re-opens the activity for resubmission.
	ActivityStatusRejected: {ActivityStatusUnderEvaluation},
	ActivityStatusVerified: {},
}

func CanTransition(from, to ActivityStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Activity is one beneficiary's claim against one milestone. It gates whether
// a release may be requested: every activity under a milestone must reach
// VERIFIED before funds move.
type Activity struct {
	ActivityID         string         `gorm:"column:activity_id;primaryKey;type:char(26)" json:"activity_id"`
	MilestoneID        string         `gorm:"column:milestone_id;index;not null" json:"milestone_id"`
	BeneficiaryID      string         `gorm:"column:beneficiary_id;index;not null" json:"beneficiary_id"`
	Status             ActivityStatus `gorm:"column:status;type:varchar(50);not null;default:'PENDING'" json:"status"`
	EvidenceStatus     EvidenceStatus `gorm:"column:evidence_status;type:varchar(20);not null;default:'NONE'" json:"evidence_status"`
	EvaluationStatus   ReviewStatus   `gorm:"column:evaluation_status;type:varchar(20);not null;default:'PENDING'" json:"evaluation_status"`
	VerificationStatus ReviewStatus   `gorm:"column:verification_status;type:varchar(20);not null;default:'PENDING'" json:"verification_status"`
	Evidence           datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	// ProofTxHash is the on-chain attestation the evaluator submits before
	// approving. nil -> set exactly once.
	ProofTxHash *string   `gorm:"column:proof_tx_hash" json:"proof_tx_hash,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

type AwardStatus string

const (
	AwardStatusPending   AwardStatus = "PENDING"
	AwardStatusFinalized AwardStatus = "FINALIZED"
)

// Award is created when an activity passes verification and finalized once
// the release transaction hash is known. Hash transitions nil -> set exactly
// once per successful signature.
type Award struct {
	AwardID    string      `gorm:"column:award_id;primaryKey;type:char(26)" json:"award_id"`
	ActivityID string      `gorm:"column:activity_id;index;not null" json:"activity_id"`
	Hash       *string     `gorm:"column:hash" json:"hash,omitempty"`
	Status     AwardStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'" json:"status"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
