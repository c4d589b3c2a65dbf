package campaign

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
	return f.createFn(ctx, params)
}

func (f *fakeEscrowClient) FundEscrow(ctx context.Context, contractID, amount, senderPublicKey string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ChangeMilestoneStatus(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ApproveMilestone(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ReleaseEscrow(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) DistributeEarnings(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) GetEscrowStatus(ctx context.Context, contractID string) (*escrowgw.EscrowStatus, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) GetEscrowByEngagementID(ctx context.Context, engagementID string) (*escrowgw.Contract, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) SearchBySigner(ctx context.Context, walletAddress string) ([]escrowgw.Contract, error) {
	return nil, errors.New("not implemented")
}

func newTestService(t *testing.T, escrow escrowgw.Client) (*Service, *gorm.DB, *gin.Engine) {
	t.Helper()

	db := testutil.NewTestDB(t, &Campaign{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := &Service{
		db:       db,
		node:     node,
		escrow:   escrow,
		campaign: repository.ProvideStore[Campaign](db),
	}

	r := gin.New()
	r.Use(middleware.Error())
	registerRoutes(r, svc)

	return svc, db, r
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

func TestCreateCampaign_PersistsEscrowID(t *testing.T) {
	var gotEngagement string
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			gotEngagement = params.EngagementID
			return &escrowgw.CreateResult{ContractID: "CBESCROW123"}, nil
		},
	}
	_, db, r := newTestService(t, escrow)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns", gin.H{
		"organization_id": "org-1",
		"name":            "River Cleanup",
		"cost":            500000,
		"wallet_address":  "GFUNDER",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateCampaignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Campaign)
	require.Equal(t, "campaign-"+resp.Campaign.CampaignID, gotEngagement)

	var stored Campaign
	require.NoError(t, db.First(&stored, "campaign_id = ?", resp.Campaign.CampaignID).Error)
	require.NotNil(t, stored.EscrowID)
	require.Equal(t, "CBESCROW123", *stored.EscrowID)
	require.Equal(t, CampaignStatusDraft, stored.Status)
}

func TestCreateCampaign_ReturnsUnsignedXDR(t *testing.T) {
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			return &escrowgw.CreateResult{UnsignedXDR: "AAAA...base64"}, nil
		},
	}
	_, db, r := newTestService(t, escrow)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns", gin.H{
		"organization_id": "org-1",
		"name":            "Tree Planting",
		"cost":            1000,
		"wallet_address":  "GFUNDER",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateCampaignResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "AAAA...base64", resp.UnsignedXDR)

	// No contract id yet; it is attached later once the signed
	// transaction lands.
	var stored Campaign
	require.NoError(t, db.First(&stored, "campaign_id = ?", resp.Campaign.CampaignID).Error)
	require.Nil(t, stored.EscrowID)
}

func TestCreateCampaign_RollsBackOnEscrowFailure(t *testing.T) {
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			return nil, errors.New("deployer unavailable")
		},
	}
	_, db, r := newTestService(t, escrow)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns", gin.H{
		"organization_id": "org-1",
		"name":            "Doomed",
		"cost":            1000,
		"wallet_address":  "GFUNDER",
	})
	require.NotEqual(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, db.Model(&Campaign{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateCampaign_NoWalletSkipsEscrow(t *testing.T) {
	escrow := &fakeEscrowClient{
		createFn: func(ctx context.Context, params escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
			t.Fatal("escrow should not be created without a wallet")
			return nil, nil
		},
	}
	_, db, r := newTestService(t, escrow)

	w := doJSON(t, r, http.MethodPost, "/v1/campaigns", gin.H{
		"organization_id": "org-1",
		"name":            "Offline",
		"cost":            1000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, db.Model(&Campaign{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestUpdateCampaign_RejectsInvalidTransition(t *testing.T) {
	_, db, r := newTestService(t, &fakeEscrowClient{})

	require.NoError(t, db.Create(&Campaign{
		CampaignID:     "1",
		OrganizationID: "org-1",
		Name:           "Done",
		Cost:           100,
		Currency:       "USDC",
		Status:         CampaignStatusCompleted,
	}).Error)

	w := doJSON(t, r, http.MethodPatch, "/v1/campaigns/1", gin.H{"status": "ACTIVE"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdateCampaign_AllowsValidTransition(t *testing.T) {
	_, db, r := newTestService(t, &fakeEscrowClient{})

	require.NoError(t, db.Create(&Campaign{
		CampaignID:     "2",
		OrganizationID: "org-1",
		Name:           "Fresh",
		Cost:           100,
		Currency:       "USDC",
		Status:         CampaignStatusDraft,
	}).Error)

	w := doJSON(t, r, http.MethodPatch, "/v1/campaigns/2", gin.H{"status": "ACTIVE"})
	require.Equal(t, http.StatusOK, w.Code)

	var stored Campaign
	require.NoError(t, db.First(&stored, "campaign_id = ?", "2").Error)
	require.Equal(t, CampaignStatusActive, stored.Status)
}

func TestGetCampaign_NotFound(t *testing.T) {
	_, _, r := newTestService(t, &fakeEscrowClient{})

	w := doJSON(t, r, http.MethodGet, "/v1/campaigns/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCampaigns_FiltersByOrganization(t *testing.T) {
	_, db, r := newTestService(t, &fakeEscrowClient{})

	for _, c := range []*Campaign{
		{CampaignID: "10", OrganizationID: "org-a", Name: "A", Cost: 1, Currency: "USDC", Status: CampaignStatusActive},
		{CampaignID: "11", OrganizationID: "org-b", Name: "B", Cost: 1, Currency: "USDC", Status: CampaignStatusActive},
	} {
		require.NoError(t, db.Create(c).Error)
	}

	w := doJSON(t, r, http.MethodGet, "/v1/campaigns?organization_id=org-a", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListCampaignsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Campaigns, 1)
	require.Equal(t, "org-a", resp.Campaigns[0].OrganizationID)
}
