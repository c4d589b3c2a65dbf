package milestone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pevi-platform/pkg/middleware"
	"pevi-platform/pkg/repository"
	"pevi-platform/services/campaign"
	"pevi-platform/services/escrowgw"
	"pevi-platform/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEscrowClient struct {
	createFn func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error)
}

func (f *fakeEscrowClient) CreateEscrow(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
	if f.createFn == nil {
		return nil, errors.New("unexpected CreateEscrow call")
	}
	return f.createFn(ctx, params)
}

func (f *fakeEscrowClient) FundEscrow(context.Context, string, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ChangeMilestoneStatus(context.Context, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ApproveMilestone(context.Context, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ReleaseEscrow(context.Context, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) DistributeEarnings(context.Context, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) GetEscrowStatus(context.Context, string) (*escrowgw.EscrowStatus, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) GetEscrowByEngagementID(context.Context, string) (*escrowgw.Contract, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) SearchBySigner(context.Context, string) ([]escrowgw.Contract, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, escrow escrowgw.Client) (*gorm.DB, *gin.Engine) {
	t.Helper()

	db := testutil.NewTestDB(t, &campaign.Campaign{}, &Milestone{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := &Service{
		db:        db,
		node:      node,
		escrow:    escrow,
		milestone: repository.ProvideStore[Milestone](db),
		campaign:  repository.ProvideStore[campaign.Campaign](db),
	}

	r := gin.New()
	r.Use(middleware.Error())
	registerRoutes(r, svc)

	return db, r
}

func seedCampaign(t *testing.T, db *gorm.DB) *campaign.Campaign {
	t.Helper()

	c := &campaign.Campaign{
		CampaignID:     "100",
		OrganizationID: "org-1",
		Name:           "Clean Water",
		Cost:           100000,
		Currency:       "USDC",
		Status:         campaign.CampaignStatusActive,
		WalletAddress:  "GFUNDER",
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateMilestone_ProvisionsEscrow(t *testing.T) {
	var got escrowgw.CreateParams
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			got = params
			return &escrowgw.CreateResult{ContractID: "CBMILESTONE"}, nil
		},
	}
	db, r := newTestService(t, escrow)
	seedCampaign(t, db)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns/100/milestones", gin.H{
		"title":          "Phase 1",
		"amount":         25000,
		"wallet_address": "GBENEFICIARY",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateMilestoneResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "milestone-"+resp.Milestone.MilestoneID, got.EngagementID)
	// Approver defaults to the campaign funder wallet.
	require.Equal(t, "GFUNDER", got.Approver)
	require.Equal(t, "GBENEFICIARY", got.Receiver)

	var stored Milestone
	require.NoError(t, db.First(&stored, "milestone_id = ?", resp.Milestone.MilestoneID).Error)
	require.NotNil(t, stored.EscrowID)
	require.Equal(t, "CBMILESTONE", *stored.EscrowID)
}

func TestCreateMilestone_RollsBackOnEscrowFailure(t *testing.T) {
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			return nil, errors.New("deployer unavailable")
		},
	}
	db, r := newTestService(t, escrow)
	seedCampaign(t, db)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns/100/milestones", gin.H{
		"title":          "Phase 1",
		"amount":         25000,
		"wallet_address": "GBENEFICIARY",
	})
	require.NotEqual(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, db.Model(&Milestone{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateMilestone_UnknownCampaign(t *testing.T) {
	_, r := newTestService(t, &fakeEscrowClient{})

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns/999/milestones", gin.H{
		"title":  "Phase 1",
		"amount": 25000,
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateMilestone_EnforcesStatusOrder(t *testing.T) {
	db, r := newTestService(t, &fakeEscrowClient{})
	seedCampaign(t, db)

	require.NoError(t, db.Create(&Milestone{
		MilestoneID: "200",
		CampaignID:  "100",
		Title:       "Phase 1",
		Amount:      25000,
		Currency:    "USDC",
		Status:      MilestoneStatusPending,
	}).Error)

	// pending -> approved skips in_progress
	w := doJSON(t, r, http.MethodPatch, "/v1/milestones/200", gin.H{"status": "APPROVED"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, r, http.MethodPatch, "/v1/milestones/200", gin.H{"status": "IN_PROGRESS"})
	require.Equal(t, http.StatusOK, w.Code)

	var stored Milestone
	require.NoError(t, db.First(&stored, "milestone_id = ?", "200").Error)
	require.Equal(t, MilestoneStatusInProgress, stored.Status)
}

func TestListMilestones_ScopedToCampaign(t *testing.T) {
	db, r := newTestService(t, &fakeEscrowClient{})
	seedCampaign(t, db)

	for _, m := range []*Milestone{
		{MilestoneID: "201", CampaignID: "100", Title: "A", Amount: 1, Currency: "USDC", Status: MilestoneStatusPending},
		{MilestoneID: "202", CampaignID: "999", Title: "B", Amount: 1, Currency: "USDC", Status: MilestoneStatusPending},
	} {
		require.NoError(t, db.Create(m).Error)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/campaigns/100/milestones", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Milestones []*Milestone `json:"milestones"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Milestones, 1)
	require.Equal(t, "201", resp.Milestones[0].MilestoneID)
}
