package donation

import (
	"net/http"
	"strconv"

	"pevi-platform/pkg/db/option"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
	"pevi-platform/pkg/stellar"
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
	ledger stellar.Submitter

	donation repository.Repository[Donation]
	campaign repository.Repository[campaign.Campaign]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Escrow escrowgw.Client
	Ledger stellar.Submitter
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		escrow:   p.Escrow,
		ledger:   p.Ledger,
		donation: repository.ProvideStore[Donation](p.DB),
		campaign: repository.ProvideStore[campaign.Campaign](p.DB),
	}
}

// ========================================================
// HTTP Implementation
// ========================================================

type FundRequest struct {
	DonorID       string `json:"donor_id" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
}

type FundResponse struct {
	Donation    *Donation `json:"donation"`
	UnsignedXDR string    `json:"unsigned_xdr,omitempty"`
}

// Fund starts (or resumes) a donation into the campaign escrow. An existing
// unconfirmed donation by the same donor for the same amount is reused, so an
// abandoned wallet prompt never leaves duplicate rows behind.
func (s *Service) Fund(c *gin.Context) {
	var req FundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid donation payload", errutil.WithErr(err)))
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
	if !parent.HasEscrow() {
		c.Error(errutil.UnprocessableEntity("campaign has no escrow contract"))
		return
	}

	d, err := s.donation.FindOne(c.Request.Context(), &Donation{
		CampaignID: parent.CampaignID,
		DonorID:    req.DonorID,
		Amount:     req.Amount,
		Status:     DonationStatusPending,
	})
	if err != nil {
		c.Error(errutil.Internal("failed to load donation", errutil.WithErr(err)))
		return
	}

	if d == nil {
		d = &Donation{
			DonationID:    s.node.Generate().String(),
			CampaignID:    parent.CampaignID,
			DonorID:       req.DonorID,
			WalletAddress: req.WalletAddress,
			Amount:        req.Amount,
			Currency:      parent.Currency,
			Status:        DonationStatusPending,
		}
		if err := s.donation.Create(c.Request.Context(), d); err != nil {
			zap.L().Error("failed to create donation", zap.Error(err))
			c.Error(errutil.Internal("failed to create donation", errutil.WithErr(err)))
			return
		}
	}

	result, err := s.escrow.FundEscrow(c.Request.Context(),
		*parent.EscrowID,
		strconv.FormatInt(d.Amount, 10),
		req.WalletAddress,
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, FundResponse{Donation: d, UnsignedXDR: result.UnsignedXDR})
}

// ========================================================

type ConfirmRequest struct {
	SignedTxXDR string `json:"signed_tx_xdr" binding:"required"`
}

// Confirm submits the signed funding envelope and records its hash. The hash
// is written exactly once; confirming an already-confirmed donation is
// refused rather than overwritten.
func (s *Service) Confirm(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid confirmation payload", errutil.WithErr(err)))
		return
	}

	d, err := s.donation.FindOne(c.Request.Context(), &Donation{DonationID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load donation", errutil.WithErr(err)))
		return
	}
	if d == nil {
		c.Error(errutil.NotFound("donation not found"))
		return
	}
	if d.Confirmed() {
		c.Error(errutil.Conflict("donation already confirmed"))
		return
	}

	result, err := s.ledger.SubmitTransaction(c.Request.Context(), req.SignedTxXDR)
	if err != nil {
		c.Error(err)
		return
	}

	if err := s.donation.Update(c.Request.Context(), d.DonationID, map[string]any{
		"hash":   result.Hash,
		"status": DonationStatusConfirmed,
	}); err != nil {
		c.Error(errutil.Internal("failed to confirm donation", errutil.WithErr(err)))
		return
	}

	d.Hash = &result.Hash
	d.Status = DonationStatusConfirmed
	c.JSON(http.StatusOK, d)
}

// ========================================================

func (s *Service) ListDonations(c *gin.Context) {
	donations, err := s.donation.Find(c.Request.Context(),
		&Donation{CampaignID: c.Param("id")},
		option.WithOrder("created_at DESC"),
	)
	if err != nil {
		c.Error(errutil.Internal("failed to list donations", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"donations": donations})
}
