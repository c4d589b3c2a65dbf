package escrow

import (
	"context"
	"encoding/json"
	"net/http"

	peviasynq "pevi-platform/pkg/asynq"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
	"pevi-platform/pkg/signing"
	"pevi-platform/pkg/stellar"
	"pevi-platform/services/activity"
	"pevi-platform/services/campaign"
	"pevi-platform/services/escrowgw"
	"pevi-platform/services/milestone"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ========================================================
// Service Definition
// ========================================================

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	escrow escrowgw.Client
	ledger stellar.Submitter
	lease  Lease
	gate   ReleaseGate
	tasks  *asynq.Client

	campaign   repository.Repository[campaign.Campaign]
	milestone  repository.Repository[milestone.Milestone]
	checkpoint repository.Repository[ReleaseCheckpoint]
	activity   repository.Repository[activity.Activity]
	award      repository.Repository[activity.Award]
}

// ReleaseGate decides whether a milestone's funds may start moving. Satisfied
// by the activity service: every activity under the milestone must have
// passed verification.
type ReleaseGate interface {
	AllVerified(ctx context.Context, milestoneID string) (bool, error)
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Escrow escrowgw.Client
	Ledger stellar.Submitter
	Lease  Lease
	Gate   ReleaseGate
	Tasks  *asynq.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:         p.DB,
		node:       p.Node,
		escrow:     p.Escrow,
		ledger:     p.Ledger,
		lease:      p.Lease,
		gate:       p.Gate,
		tasks:      p.Tasks,
		campaign:   repository.ProvideStore[campaign.Campaign](p.DB),
		milestone:  repository.ProvideStore[milestone.Milestone](p.DB),
		checkpoint: repository.ProvideStore[ReleaseCheckpoint](p.DB),
		activity:   repository.ProvideStore[activity.Activity](p.DB),
		award:      repository.ProvideStore[activity.Award](p.DB),
	}
}

// ========================================================
// Release Protocol Core
// ========================================================

type releaseTarget struct {
	campaign   *campaign.Campaign
	milestone  *milestone.Milestone
	contractID string
}

func (s *Service) resolveTarget(ctx context.Context, campaignID, milestoneID string) (*releaseTarget, error) {
	cmp, err := s.campaign.FindOne(ctx, &campaign.Campaign{CampaignID: campaignID})
	if err != nil {
		return nil, errutil.Internal("failed to load campaign", errutil.WithErr(err))
	}
	if cmp == nil {
		return nil, errutil.NotFound("campaign not found")
	}

	mst, err := s.milestone.FindOne(ctx, &milestone.Milestone{MilestoneID: milestoneID, CampaignID: campaignID})
	if err != nil {
		return nil, errutil.Internal("failed to load milestone", errutil.WithErr(err))
	}
	if mst == nil {
		return nil, errutil.NotFound("milestone not found")
	}

	target := &releaseTarget{campaign: cmp, milestone: mst}
	switch {
	case mst.HasEscrow():
		target.contractID = *mst.EscrowID
	case cmp.HasEscrow():
		target.contractID = *cmp.EscrowID
	default:
		return nil, errutil.UnprocessableEntity("no escrow contract bound to campaign or milestone")
	}

	return target, nil
}

func (s *Service) completedSteps(ctx context.Context, contractID string) (map[ReleaseStep]bool, error) {
	checkpoints, err := s.checkpoint.Find(ctx, &ReleaseCheckpoint{ContractID: contractID})
	if err != nil {
		return nil, errutil.Internal("failed to load release checkpoints", errutil.WithErr(err))
	}

	done := make(map[ReleaseStep]bool, len(checkpoints))
	for _, cp := range checkpoints {
		done[cp.Step] = true
	}
	return done, nil
}

// checkOrdering enforces strict sequencing: the previous step must be
// checkpointed and this step must not be.
func (s *Service) checkOrdering(ctx context.Context, contractID string, step ReleaseStep) error {
	idx := StepIndex(step)
	if idx < 0 {
		return errutil.BadRequest("unknown release step")
	}

	done, err := s.completedSteps(ctx, contractID)
	if err != nil {
		return err
	}

	if done[step] {
		return errutil.Conflict("release step already completed")
	}
	if idx > 0 && !done[stepOrder[idx-1]] {
		return errutil.UnprocessableEntity("previous release step not completed")
	}
	return nil
}

// StepPrompt is what the caller needs to continue the protocol: either an
// unsigned envelope to put in front of the signer, or a notice that the
// gateway already reflects the step's outcome.
type StepPrompt struct {
	Step            ReleaseStep `json:"step"`
	ContractID      string      `json:"contract_id"`
	UnsignedXDR     string      `json:"unsigned_xdr,omitempty"`
	AlreadyApproved bool        `json:"already_approved,omitempty"`
}

// PrepareStep requests the unsigned transaction for one release step. The
// first step atomically takes the release lease; later steps require it to
// still be held by the same signer.
func (s *Service) PrepareStep(ctx context.Context, campaignID, milestoneID string, step ReleaseStep, signerWallet string) (*StepPrompt, error) {
	target, err := s.resolveTarget(ctx, campaignID, milestoneID)
	if err != nil {
		return nil, err
	}

	if err := s.checkOrdering(ctx, target.contractID, step); err != nil {
		return nil, err
	}

	if step == StepChangeStatus {
		// Funds must not start moving for a campaign whose status cannot
		// follow them; a payout against a DRAFT or CANCELLED campaign would
		// leave the row stranded while the contract empties.
		if !campaign.CanTransition(target.campaign.Status, campaign.CampaignStatusReleasing) {
			return nil, errutil.UnprocessableEntity("campaign status does not allow a release")
		}

		verified, err := s.gate.AllVerified(ctx, target.milestone.MilestoneID)
		if err != nil {
			return nil, errutil.Internal("failed to check milestone verification", errutil.WithErr(err))
		}
		if !verified {
			return nil, errutil.UnprocessableEntity("milestone activities are not fully verified")
		}

		acquired, err := s.lease.Acquire(ctx, target.contractID, signerWallet)
		if err != nil {
			return nil, errutil.Internal("failed to acquire release lease", errutil.WithErr(err))
		}
		if !acquired {
			return nil, errutil.Conflict("a release for this escrow is already in flight")
		}
	} else {
		held, err := s.lease.Held(ctx, target.contractID, signerWallet)
		if err != nil {
			return nil, errutil.Internal("failed to check release lease", errutil.WithErr(err))
		}
		if held {
			if err := s.lease.Extend(ctx, target.contractID); err != nil {
				zap.L().Warn("failed to extend release lease", zap.String("contract_id", target.contractID), zap.Error(err))
			}
		} else {
			// A halted release freed (or expired) the lease; re-take it so
			// a resume can continue, but never steal it from another signer.
			acquired, err := s.lease.Acquire(ctx, target.contractID, signerWallet)
			if err != nil {
				return nil, errutil.Internal("failed to acquire release lease", errutil.WithErr(err))
			}
			if !acquired {
				return nil, errutil.Conflict("a release for this escrow is already in flight")
			}
		}
	}

	prompt := &StepPrompt{Step: step, ContractID: target.contractID}

	var result *escrowgw.TxResult
	switch step {
	case StepChangeStatus:
		result, err = s.escrow.ChangeMilestoneStatus(ctx, target.contractID, signerWallet)
	case StepApprove:
		result, err = s.escrow.ApproveMilestone(ctx, target.contractID, signerWallet)
	case StepRelease:
		result, err = s.escrow.ReleaseEscrow(ctx, target.contractID, signerWallet)
	case StepPayout:
		result, err = s.escrow.DistributeEarnings(ctx, target.contractID, signerWallet)
	}
	if err != nil {
		if step == StepChangeStatus {
			// Nothing committed yet; do not leave the lease wedged.
			if relErr := s.lease.Release(ctx, target.contractID); relErr != nil {
				zap.L().Warn("failed to release lease after gateway failure", zap.Error(relErr))
			}
		}
		return nil, err
	}

	if step == StepApprove && result.AlreadyApproved {
		// Idempotent resume: the contract already reflects the approval,
		// so checkpoint it without prompting for a signature.
		if err := s.recordCheckpoint(ctx, target, step, ""); err != nil {
			return nil, err
		}
		prompt.AlreadyApproved = true
		return prompt, nil
	}

	prompt.UnsignedXDR = result.UnsignedXDR
	return prompt, nil
}

// StepOutcome reports what a submission did. Cancelled outcomes are
// informational: the sequence halted and nothing was mutated.
type StepOutcome struct {
	Step      ReleaseStep `json:"step"`
	TxHash    string      `json:"tx_hash,omitempty"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Completed bool        `json:"completed,omitempty"`
}

// SubmitStep forwards the signer's response for one step. A dismissed wallet
// prompt halts the sequence and frees the lease without touching any record;
// a ledger failure halts with the structured error preserved; success
// checkpoints the step and advances the off-chain statuses it implies.
func (s *Service) SubmitStep(ctx context.Context, campaignID, milestoneID string, step ReleaseStep, signerWallet string, wallet signing.WalletResponse) (*StepOutcome, error) {
	target, err := s.resolveTarget(ctx, campaignID, milestoneID)
	if err != nil {
		return nil, err
	}

	signedXDR, err := wallet.Result()
	if err != nil {
		if signing.IsCancelled(err) {
			// Only the holder's cancellation frees the lease; a stray
			// cancel from another session must not evict an active signer.
			held, heldErr := s.lease.Held(ctx, target.contractID, signerWallet)
			if heldErr != nil {
				zap.L().Warn("failed to check release lease after cancellation", zap.Error(heldErr))
			}
			if held {
				if relErr := s.lease.Release(ctx, target.contractID); relErr != nil {
					zap.L().Warn("failed to release lease after cancellation", zap.Error(relErr))
				}
			}
			return &StepOutcome{Step: step, Cancelled: true}, nil
		}
		return nil, errutil.BadRequest(err.Error())
	}

	if err := s.checkOrdering(ctx, target.contractID, step); err != nil {
		return nil, err
	}

	held, err := s.lease.Held(ctx, target.contractID, signerWallet)
	if err != nil {
		return nil, errutil.Internal("failed to check release lease", errutil.WithErr(err))
	}
	if !held {
		return nil, errutil.Conflict("release lease not held, restart the release")
	}

	result, err := s.ledger.SubmitTransaction(ctx, signedXDR)
	if err != nil {
		return nil, err
	}

	if err := s.recordCheckpoint(ctx, target, step, result.Hash); err != nil {
		return nil, err
	}

	outcome := &StepOutcome{Step: step, TxHash: result.Hash}

	if step == StepPayout {
		if err := s.completeRelease(ctx, target, result.Hash); err != nil {
			return nil, err
		}
		if err := s.lease.Release(ctx, target.contractID); err != nil {
			zap.L().Warn("failed to release lease after payout", zap.Error(err))
		}
		outcome.Completed = true
	}

	return outcome, nil
}

// recordCheckpoint persists the step and the off-chain status move it
// implies. Status only advances on a confirmed on-chain action, never ahead
// of one.
func (s *Service) recordCheckpoint(ctx context.Context, target *releaseTarget, step ReleaseStep, txHash string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkpoint.WithTrx(tx).Create(ctx, &ReleaseCheckpoint{
			CheckpointID: s.node.Generate().String(),
			ContractID:   target.contractID,
			CampaignID:   target.campaign.CampaignID,
			MilestoneID:  target.milestone.MilestoneID,
			Step:         step,
			TxHash:       txHash,
		}); err != nil {
			return err
		}

		if step == StepChangeStatus &&
			campaign.CanTransition(target.campaign.Status, campaign.CampaignStatusReleasing) {
			if err := s.campaign.WithTrx(tx).Update(ctx, target.campaign.CampaignID, map[string]any{
				"status": campaign.CampaignStatusReleasing,
			}); err != nil {
				return err
			}
			target.campaign.Status = campaign.CampaignStatusReleasing
		}

		next, ok := milestoneStatusFor(step)
		if ok && milestone.CanTransition(target.milestone.Status, next) {
			if err := s.milestone.WithTrx(tx).Update(ctx, target.milestone.MilestoneID, map[string]any{
				"status": next,
			}); err != nil {
				return err
			}
			target.milestone.Status = next
		}

		return nil
	})
	if err != nil {
		return errutil.Internal("failed to record release checkpoint", errutil.WithErr(err))
	}
	return nil
}

func milestoneStatusFor(step ReleaseStep) (milestone.MilestoneStatus, bool) {
	switch step {
	case StepApprove:
		return milestone.MilestoneStatusApproved, true
	case StepRelease:
		return milestone.MilestoneStatusReleased, true
	case StepPayout:
		return milestone.MilestoneStatusPaid, true
	default:
		return "", false
	}
}

// completeRelease runs only after the payout submission succeeds: the
// campaign completes and every pending award under the milestone is
// finalized with the payout hash.
func (s *Service) completeRelease(ctx context.Context, target *releaseTarget, txHash string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if campaign.CanTransition(target.campaign.Status, campaign.CampaignStatusCompleted) {
			if err := s.campaign.WithTrx(tx).Update(ctx, target.campaign.CampaignID, map[string]any{
				"status": campaign.CampaignStatusCompleted,
			}); err != nil {
				return err
			}
		}

		activities, err := s.activity.WithTrx(tx).Find(ctx, &activity.Activity{
			MilestoneID: target.milestone.MilestoneID,
		})
		if err != nil {
			return err
		}

		for _, act := range activities {
			award, err := s.award.WithTrx(tx).FindOne(ctx, &activity.Award{ActivityID: act.ActivityID})
			if err != nil {
				return err
			}
			if award == nil || award.Hash != nil {
				continue
			}
			if err := s.award.WithTrx(tx).Update(ctx, award.AwardID, map[string]any{
				"hash":   txHash,
				"status": activity.AwardStatusFinalized,
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return errutil.Internal("failed to finalize release", errutil.WithErr(err))
	}

	s.notify(target.campaign.OrganizationID, "campaign_completed", target.campaign.CampaignID,
		"all release steps confirmed, funds paid out")
	return nil
}

func (s *Service) notify(recipientID, kind, entityID, body string) {
	if s.tasks == nil {
		return
	}

	payload, err := json.Marshal(peviasynq.NotifyStatusPayload{
		RecipientID: recipientID,
		Kind:        kind,
		EntityID:    entityID,
		Body:        body,
	})
	if err != nil {
		return
	}

	if _, err := s.tasks.Enqueue(asynq.NewTask(peviasynq.NotifyStatusTask, payload)); err != nil {
		zap.L().Warn("failed to enqueue notification", zap.String("kind", kind), zap.Error(err))
	}
}

// ========================================================
// HTTP Implementation
// ========================================================

type PrepareReleaseRequest struct {
	MilestoneID  string      `json:"milestone_id" binding:"required"`
	Step         ReleaseStep `json:"step" binding:"required"`
	SignerWallet string      `json:"signer_wallet" binding:"required"`
}

func (s *Service) PrepareRelease(c *gin.Context) {
	var req PrepareReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid release payload", errutil.WithErr(err)))
		return
	}

	prompt, err := s.PrepareStep(c.Request.Context(), c.Param("id"), req.MilestoneID, req.Step, req.SignerWallet)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, prompt)
}

type SubmitReleaseRequest struct {
	MilestoneID  string      `json:"milestone_id" binding:"required"`
	Step         ReleaseStep `json:"step" binding:"required"`
	SignerWallet string      `json:"signer_wallet" binding:"required"`

	// Raw wallet extension response, forwarded as-is by the UI.
	SignedTxXDR string          `json:"signedTxXdr"`
	WalletError json.RawMessage `json:"error,omitempty"`
}

func (s *Service) SubmitRelease(c *gin.Context) {
	var req SubmitReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid submission payload", errutil.WithErr(err)))
		return
	}

	outcome, err := s.SubmitStep(c.Request.Context(), c.Param("id"), req.MilestoneID, req.Step, req.SignerWallet,
		signing.WalletResponse{SignedTxXDR: req.SignedTxXDR, Error: req.WalletError})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

type SyncEscrowRequest struct {
	WalletAddress string `json:"wallet_address"`
	ContractID    string `json:"contract_id"`
}

func (s *Service) SyncEscrow(c *gin.Context) {
	var req SyncEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid sync payload", errutil.WithErr(err)))
		return
	}

	cmp, err := s.SyncEscrowID(c.Request.Context(), c.Param("id"), req.WalletAddress, req.ContractID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, cmp)
}

func (s *Service) GetEscrowStatus(c *gin.Context) {
	cmp, err := s.campaign.FindOne(c.Request.Context(), &campaign.Campaign{CampaignID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load campaign", errutil.WithErr(err)))
		return
	}
	if cmp == nil {
		c.Error(errutil.NotFound("campaign not found"))
		return
	}
	if !cmp.HasEscrow() {
		c.Error(errutil.NotFound("campaign has no escrow contract"))
		return
	}

	status, err := s.escrow.GetEscrowStatus(c.Request.Context(), *cmp.EscrowID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}
