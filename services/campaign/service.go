package campaign

import (
	"net/http"
	"strconv"
	"time"

	"pevi-platform/pkg/db/option"
	"pevi-platform/pkg/db/pagination"
	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
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

	campaign repository.Repository[Campaign]
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Escrow escrowgw.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		escrow:   p.Escrow,
		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

// ========================================================
// HTTP Implementation
// ========================================================

type CreateCampaignRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	Description    string `json:"description"`
	Cost           int64  `json:"cost" binding:"required,gt=0"`
	Currency       string `json:"currency"`
	WalletAddress  string `json:"wallet_address"`
	ReceiverWallet string `json:"receiver_wallet"`
}

type CreateCampaignResponse struct {
	Campaign    *Campaign `json:"campaign"`
	UnsignedXDR string    `json:"unsigned_xdr,omitempty"`
}

// CreateCampaign persists the campaign and, when a funding wallet is
// supplied, immediately requests an escrow contract for it. A campaign must
// not survive if neither a contract id nor an unsigned creation transaction
// is obtainable, so gateway failure rolls the row back.
func (s *Service) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid campaign payload", errutil.WithErr(err)))
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "USDC"
	}

	campaign := &Campaign{
		CampaignID:     s.node.Generate().String(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Cost:           req.Cost,
		Currency:       currency,
		Status:         CampaignStatusDraft,
		WalletAddress:  req.WalletAddress,
	}

	if err := s.campaign.Create(c.Request.Context(), campaign); err != nil {
		zap.L().Error("failed to create campaign", zap.Error(err))
		c.Error(errutil.Internal("failed to create campaign", errutil.WithErr(err)))
		return
	}

	resp := CreateCampaignResponse{Campaign: campaign}

	if req.WalletAddress != "" {
		receiver := req.ReceiverWallet
		if receiver == "" {
			receiver = req.WalletAddress
		}

		result, err := s.escrow.CreateEscrow(c.Request.Context(), escrowgw.CreateParams{
			EngagementID: escrowgw.CampaignEngagementID(campaign.CampaignID),
			Title:        campaign.Name,
			Description:  campaign.Description,
			Amount:       strconv.FormatInt(campaign.Cost, 10),
			Currency:     campaign.Currency,
			Approver:     req.WalletAddress,
			Receiver:     receiver,
		})
		if err != nil {
			// Fail closed: no orphaned campaign claiming escrow backing
			// it cannot actually get.
			if delErr := s.db.WithContext(c.Request.Context()).Delete(campaign).Error; delErr != nil {
				zap.L().Error("failed to roll back campaign after escrow failure",
					zap.String("campaign_id", campaign.CampaignID), zap.Error(delErr))
			}
			c.Error(err)
			return
		}

		if result.ContractID != "" {
			campaign.EscrowID = &result.ContractID
			if err := s.campaign.Update(c.Request.Context(), campaign.CampaignID, map[string]any{
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

func (s *Service) GetCampaign(c *gin.Context) {
	campaign, err := s.campaign.FindOne(c.Request.Context(), &Campaign{CampaignID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load campaign", errutil.WithErr(err)))
		return
	}
	if campaign == nil {
		c.Error(errutil.NotFound("campaign not found"))
		return
	}

	c.JSON(http.StatusOK, campaign)
}

// ========================================================

type ListCampaignsResponse struct {
	Campaigns []*Campaign          `json:"campaigns"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

func (s *Service) ListCampaigns(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.ValidationFailed("invalid pagination", errutil.WithErr(err)))
		return
	}

	query := &Campaign{OrganizationID: c.Query("organization_id")}
	if status := c.Query("status"); status != "" {
		query.Status = CampaignStatus(status)
	}

	opts := []option.QueryOption{
		option.WithOrder("created_at DESC"),
		option.WithLimit(page.Limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			c.Error(errutil.ValidationFailed("invalid cursor", errutil.WithErr(err)))
			return
		}
		opts = append(opts, option.WithScope(func(tx *gorm.DB) *gorm.DB {
			return tx.Where("created_at < ?", cursor.CreatedAt)
		}))
	}

	campaigns, err := s.campaign.Find(c.Request.Context(), query, opts...)
	if err != nil {
		c.Error(errutil.Internal("failed to list campaigns", errutil.WithErr(err)))
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(campaigns, int32(page.Limit), func(item *Campaign) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
			ID:        item.CampaignID,
		})
		return cursor
	})

	if len(campaigns) > page.Limit {
		campaigns = campaigns[:page.Limit]
	}

	c.JSON(http.StatusOK, ListCampaignsResponse{Campaigns: campaigns, PageInfo: pageInfo})
}

// ========================================================

type UpdateCampaignRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      CampaignStatus `json:"status"`
}

func (s *Service) UpdateCampaign(c *gin.Context) {
	var req UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid campaign payload", errutil.WithErr(err)))
		return
	}

	campaign, err := s.campaign.FindOne(c.Request.Context(), &Campaign{CampaignID: c.Param("id")})
	if err != nil {
		c.Error(errutil.Internal("failed to load campaign", errutil.WithErr(err)))
		return
	}
	if campaign == nil {
		c.Error(errutil.NotFound("campaign not found"))
		return
	}

	updates := map[string]any{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.Status != "" && req.Status != campaign.Status {
		if !CanTransition(campaign.Status, req.Status) {
			c.Error(errutil.UnprocessableEntity("invalid status transition"))
			return
		}
		updates["status"] = req.Status
	}

	if len(updates) > 0 {
		if err := s.campaign.Update(c.Request.Context(), campaign.CampaignID, updates); err != nil {
			zap.L().Error("failed to update campaign", zap.Error(err))
			c.Error(errutil.Internal("failed to update campaign", errutil.WithErr(err)))
			return
		}
	}

	campaign, err = s.campaign.FindOne(c.Request.Context(), &Campaign{CampaignID: campaign.CampaignID})
	if err != nil {
		c.Error(errutil.Internal("failed to reload campaign", errutil.WithErr(err)))
		return
	}

	c.JSON(http.StatusOK, campaign)
}
