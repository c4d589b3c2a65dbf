package milestone

import (
	"net/http"
	"strconv"

	"pevi-platform/pkg/db/option"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
	"pevi-platform/services/campaign"
	"pevi-platform/services/escrowgw"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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

	milestone repository.Repository[Milestone]
	campaign  repository.Repository[campaign.Campaign]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Escrow escrowgw.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		escrow:    p.Escrow,
		milestone: repository.ProvideStore[Milestone](p.DB),
		campaign:  repository.ProvideStore[campaign.Campaign](p.DB),
	}
}

// ========================================================
// HTTP Implementation
// ========================================================

type CreateMilestoneRequest struct {
	Title          string `json:"title" binding:"required"`
	Description    string `json:"description"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Currency       string `json:"currency"`
	WalletAddress  string `json:"wallet_address"`
	ApproverWallet string `json:"approver_wallet"`
}

type CreateMilestoneResponse struct {
	Milestone   *Milestone `json:"milestone"`
	UnsignedXDR string     `json:"unsigned_xdr,omitempty"`
}

// CreateMilestone adds a milestone to an existing campaign. When both the
// beneficiary and approver wallets are known it provisions a dedicated
// escrow contract; as with campaigns, the row does not survive a gateway
// failure.
func (s *Service) CreateMilestone(c *gin.Context) {
	var req CreateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid milestone payload", errutil.WithErr(err)))
		return
	}

	parent, err := s.campaign.FindOne(c.Request.Context(), &campaign.Campaign{CampaignID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load campaign", errutil.WithErr(err)))
		return
	}
	if parent == nil {
		c.Error(errutil.NotFound("campaign not found"))
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = parent.Currency
	}

	m := &Milestone{
		MilestoneID:   s.node.Generate().String(),
		CampaignID:    parent.CampaignID,
		Title:         req.Title,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      currency,
		Status:        MilestoneStatusPending,
		WalletAddress: req.WalletAddress,
	}

	if err := s.milestone.Create(c.Request.Context(), m); err != nil {
		zap.L().Error("failed to create milestone", zap.Error(err))
		c.Error(errutil.Internal("failed to create milestone", errutil.WithErr(err)))
		return
	}

	resp := CreateMilestoneResponse{Milestone: m}

	approver := req.ApproverWallet
	if approver == "" {
		approver = parent.WalletAddress
	}

	if req.WalletAddress != "" && approver != "" {
		result, err := s.escrow.CreateEscrow(c.Request.Context(), escrowgw.CreateParams{
			EngagementID: escrowgw.MilestoneEngagementID(m.MilestoneID),
			Title:        m.Title,
			Description:  m.Description,
			Amount:       strconv.FormatInt(m.Amount, 10),
			Currency:     m.Currency,
			Approver:     approver,
			Receiver:     req.WalletAddress,
		})
		if err != nil {
			if delErr := s.db.WithContext(c.Request.Context()).Delete(m).Error; delErr != nil {
				zap.L().Error("failed to roll back milestone after escrow failure",
					zap.String("milestone_id", m.MilestoneID), zap.Error(delErr))
			}
			c.Error(err)
			return
		}

		if result.ContractID != "" {
			m.EscrowID = &result.ContractID
			if err := s.milestone.Update(c.Request.Context(), m.MilestoneID, map[string]any{
				"escrow_id": result.ContractID,
			}); err != nil {
				c.Error(errutil.Internal("failed to persist escrow id", errutil.WithErr(err)))
				return
			}
		}

		resp.UnsignedXDR = result.UnsignedXDR
	}

	c.JSON(http.StatusCreated, resp)
}

// ========================================================

func (s *Service) GetMilestone(c *gin.Context) {
	m, err := s.milestone.FindOne(c.Request.Context(), &Milestone{MilestoneID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load milestone", errutil.WithErr(err)))
		return
	}
	if m == nil {
		c.Error(errutil.NotFound("milestone not found"))
		return
	}

	c.JSON(http.StatusOK, m)
}

func (s *Service) ListMilestones(c *gin.Context) {
	milestones, err := s.milestone.Find(c.Request.Context(),
		&Milestone{CampaignID: c.Param("id")},
		option.WithOrder("created_at ASC"),
	)
	if err != nil {
		c.Error(errutil.Internal("failed to list milestones", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"milestones": milestones})
}

// ========================================================

type UpdateMilestoneRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      MilestoneStatus `json:"status"`
}

func (s *Service) UpdateMilestone(c *gin.Context) {
	var req UpdateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid milestone payload", errutil.WithErr(err)))
		return
	}

	m, err := s.milestone.FindOne(c.Request.Context(), &Milestone{MilestoneID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load milestone", errutil.WithErr(err)))
		return
	}
	if m == nil {
		c.Error(errutil.NotFound("milestone not found"))
		return
	}

	updates := map[string]any{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.Status != "" && req.Status != m.Status {
		if !CanTransition(m.Status, req.Status) {
			c.Error(errutil.UnprocessableEntity("invalid status transition"))
			return
		}
		updates["status"] = req.Status
	}

	if len(updates) > 0 {
		if err := s.milestone.Update(c.Request.Context(), m.MilestoneID, updates); err != nil {
			c.Error(errutil.Internal("failed to update milestone", errutil.WithErr(err)))
			return
		}
	}

	m, err = s.milestone.FindOne(c.Request.Context(), &Milestone{MilestoneID: m.MilestoneID})
	if err != nil {
		c.Error(errutil.Internal("failed to reload milestone", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, m)
}
