package activity

import (
	"context"
	"encoding/json"
	"net/http"

	peviasynq "pevi-platform/pkg/asynq"
	"pevi-platform/pkg/db/option"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
	"pevi-platform/pkg/stellar"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ========================================================
// Service Definition
// ========================================================

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	ledger stellar.Submitter
	tasks  *asynq.Client

	activity repository.Repository[Activity]
	award    repository.Repository[Award]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Ledger stellar.Submitter
	Tasks  *asynq.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		ledger:   p.Ledger,
		tasks:    p.Tasks,
		activity: repository.ProvideStore[Activity](p.DB),
		award:    repository.ProvideStore[Award](p.DB),
	}
}

// AllVerified reports whether every activity under the milestone has passed
// verification. A milestone with no activities is not releasable.
func (s *Service) AllVerified(ctx context.Context, milestoneID string) (bool, error) {
	total, err := s.activity.Count(ctx, &Activity{MilestoneID: milestoneID})
	if err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}

	verified, err := s.activity.Count(ctx, &Activity{
		MilestoneID: milestoneID,
		Status:      ActivityStatusVerified,
	})
	if err != nil {
		return false, err
	}

	return verified == total, nil
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

	// Best effort: a lost notification never fails the pipeline.
	if _, err := s.tasks.Enqueue(asynq.NewTask(peviasynq.NotifyStatusTask, payload)); err != nil {
		zap.L().Warn("failed to enqueue notification", zap.String("kind", kind), zap.Error(err))
	}
}

// ========================================================
// HTTP Implementation
// ========================================================

type CreateActivityRequest struct {
	BeneficiaryID string `json:"beneficiary_id" binding:"required"`
}

func (s *Service) CreateActivity(c *gin.Context) {
	var req CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid activity payload", errutil.WithErr(err)))
		return
	}

	a := &Activity{
		ActivityID:         s.node.Generate().String(),
		MilestoneID:        c.Param("id"),
		BeneficiaryID:      req.BeneficiaryID,
		Status:             ActivityStatusPending,
		EvidenceStatus:     EvidenceStatusNone,
		EvaluationStatus:   ReviewStatusPending,
		VerificationStatus: ReviewStatusPending,
	}

	if err := s.activity.Create(c.Request.Context(), a); err != nil {
		zap.L().Error("failed to create activity", zap.Error(err))
		c.Error(errutil.Internal("failed to create activity", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusCreated, a)
}

func (s *Service) ListActivities(c *gin.Context) {
	activities, err := s.activity.Find(c.Request.Context(),
		&Activity{MilestoneID: c.Param("id")},
		option.WithOrder("created_at ASC"),
	)
	if err != nil {
		c.Error(errutil.Internal("failed to list activities", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities})
}

// ========================================================

type SubmitEvidenceRequest struct {
	Evidence datatypes.JSON `json:"evidence" binding:"required"`
}

// SubmitEvidence records the beneficiary's evidence and moves the activity
// into evaluation. A rejected activity may resubmit, which resets both review
// statuses.
func (s *Service) SubmitEvidence(c *gin.Context) {
	var req SubmitEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid evidence payload", errutil.WithErr(err)))
		return
	}

	a, err := s.activity.FindOne(c.Request.Context(), &Activity{ActivityID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load activity", errutil.WithErr(err)))
		return
	}
	if a == nil {
		c.Error(errutil.NotFound("activity not found"))
		return
	}

	if !CanTransition(a.Status, ActivityStatusUnderEvaluation) {
		c.Error(errutil.UnprocessableEntity("activity is not accepting evidence"))
		return
	}

	if err := s.activity.Update(c.Request.Context(), a.ActivityID, map[string]any{
		"evidence":            req.Evidence,
		"evidence_status":     EvidenceStatusSubmitted,
		"status":              ActivityStatusUnderEvaluation,
		"evaluation_status":   ReviewStatusPending,
		"verification_status": ReviewStatusPending,
	}); err != nil {
		c.Error(errutil.Internal("failed to submit evidence", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": ActivityStatusUnderEvaluation})
}

// ========================================================

type AttestRequest struct {
	SignedTxXDR string `json:"signed_tx_xdr" binding:"required"`
}

type AttestResponse struct {
	ProofTxHash string `json:"proof_tx_hash"`
}

// Attest submits the evaluator's signed proof transaction to the ledger and
// records its hash. The proof is a prerequisite for evaluator approval and
// is written at most once.
func (s *Service) Attest(c *gin.Context) {
	var req AttestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid attestation payload", errutil.WithErr(err)))
		return
	}

	a, err := s.activity.FindOne(c.Request.Context(), &Activity{ActivityID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load activity", errutil.WithErr(err)))
		return
	}
	if a == nil {
		c.Error(errutil.NotFound("activity not found"))
		return
	}

	if a.Status != ActivityStatusUnderEvaluation {
		c.Error(errutil.UnprocessableEntity("activity is not under evaluation"))
		return
	}
	if a.ProofTxHash != nil {
		c.Error(errutil.Conflict("attestation already recorded"))
		return
	}

	result, err := s.ledger.SubmitTransaction(c.Request.Context(), req.SignedTxXDR)
	if err != nil {
		c.Error(err)
		return
	}

	if err := s.activity.Update(c.Request.Context(), a.ActivityID, map[string]any{
		"proof_tx_hash": result.Hash,
	}); err != nil {
		c.Error(errutil.Internal("failed to record attestation", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, AttestResponse{ProofTxHash: result.Hash})
}

// ========================================================

type ReviewRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Evaluate records the evaluator's decision. Approval requires a recorded
// on-chain attestation; rejection resets evidence and re-opens the activity.
func (s *Service) Evaluate(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid review payload", errutil.WithErr(err)))
		return
	}

	a, err := s.activity.FindOne(c.Request.Context(), &Activity{ActivityID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load activity", errutil.WithErr(err)))
		return
	}
	if a == nil {
		c.Error(errutil.NotFound("activity not found"))
		return
	}

	if a.Status != ActivityStatusUnderEvaluation {
		c.Error(errutil.UnprocessableEntity("activity is not under evaluation"))
		return
	}

	if req.Approved {
		if a.ProofTxHash == nil {
			c.Error(errutil.UnprocessableEntity("evaluator attestation required before approval"))
			return
		}

		if err := s.activity.Update(c.Request.Context(), a.ActivityID, map[string]any{
			"evaluation_status": ReviewStatusApproved,
			"status":            ActivityStatusUnderVerification,
		}); err != nil {
			c.Error(errutil.Internal("failed to record evaluation", errutil.WithErr(err)))
			return
		}

		s.notify(a.BeneficiaryID, "activity_evaluated", a.ActivityID, "evidence approved by evaluator")
		c.JSON(http.StatusOK, gin.H{"status": ActivityStatusUnderVerification})
		return
	}

	if err := s.rejectActivity(c.Request.Context(), a, map[string]any{
		"evaluation_status": ReviewStatusRejected,
	}); err != nil {
		c.Error(errutil.Internal("failed to record evaluation", errutil.WithErr(err)))
		return
	}

	s.notify(a.BeneficiaryID, "activity_rejected", a.ActivityID, req.Reason)
	c.JSON(http.StatusOK, gin.H{"status": ActivityStatusRejected})
}

// Verify records the verifier's decision on an evaluator-approved activity.
// Approval creates the award record that a later release will finalize.
func (s *Service) Verify(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid review payload", errutil.WithErr(err)))
		return
	}

	a, err := s.activity.FindOne(c.Request.Context(), &Activity{ActivityID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load activity", errutil.WithErr(err)))
		return
	}
	if a == nil {
		c.Error(errutil.NotFound("activity not found"))
		return
	}

	if a.Status != ActivityStatusUnderVerification {
		c.Error(errutil.UnprocessableEntity("activity is not under verification"))
		return
	}

	if req.Approved {
		err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if err := s.activity.WithTrx(tx).Update(c.Request.Context(), a.ActivityID, map[string]any{
				"verification_status": ReviewStatusApproved,
				"status":              ActivityStatusVerified,
			}); err != nil {
				return err
			}

			return s.award.WithTrx(tx).Create(c.Request.Context(), &Award{
				AwardID:    s.node.Generate().String(),
				ActivityID: a.ActivityID,
				Status:     AwardStatusPending,
			})
		})
		if err != nil {
			c.Error(errutil.Internal("failed to record verification", errutil.WithErr(err)))
			return
		}

		s.notify(a.BeneficiaryID, "activity_verified", a.ActivityID, "activity verified, award pending release")
		c.JSON(http.StatusOK, gin.H{"status": ActivityStatusVerified})
		return
	}

	if err := s.rejectActivity(c.Request.Context(), a, map[string]any{
		"verification_status": ReviewStatusRejected,
	}); err != nil {
		c.Error(errutil.Internal("failed to record verification", errutil.WithErr(err)))
		return
	}

	s.notify(a.BeneficiaryID, "activity_rejected", a.ActivityID, req.Reason)
	c.JSON(http.StatusOK, gin.H{"status": ActivityStatusRejected})
}

// rejectActivity resets the evidence so the beneficiary can resubmit. Nothing
// on-chain is rolled back: rejection can only happen before any release.
func (s *Service) rejectActivity(ctx context.Context, a *Activity, updates map[string]any) error {
	updates["status"] = ActivityStatusRejected
	updates["evidence_status"] = EvidenceStatusNone
	return s.activity.Update(ctx, a.ActivityID, updates)
}
