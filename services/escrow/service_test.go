package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/repository"
	"pevi-platform/pkg/signing"
	"pevi-platform/pkg/stellar"
	"pevi-platform/services/activity"
	"pevi-platform/services/campaign"
	"pevi-platform/services/escrowgw"
	"pevi-platform/services/milestone"
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

// ========================================================
// Fakes
// ========================================================

type fakeEscrowClient struct {
	changeStatusFn func(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error)
	approveFn      func(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error)
	releaseFn      func(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error)
	distributeFn   func(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error)
	byEngagementFn func(ctx context.Context, engagementID string) (*escrowgw.Contract, error)
	bySignerFn     func(ctx context.Context, walletAddress string) ([]escrowgw.Contract, error)
	statusFn       func(ctx context.Context, contractID string) (*escrowgw.EscrowStatus, error)
}

func (f *fakeEscrowClient) CreateEscrow(context.Context, escrowgw.CreateParams) (*escrowgw.CreateResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) FundEscrow(context.Context, string, string, string) (*escrowgw.TxResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEscrowClient) ChangeMilestoneStatus(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
	if f.changeStatusFn == nil {
		return nil, errors.New("unexpected ChangeMilestoneStatus call")
	}
	return f.changeStatusFn(ctx, contractID, signer)
}

func (f *fakeEscrowClient) ApproveMilestone(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error) {
	if f.approveFn == nil {
		return nil, errors.New("unexpected ApproveMilestone call")
	}
	return f.approveFn(ctx, contractID, approver)
}

func (f *fakeEscrowClient) ReleaseEscrow(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error) {
	if f.releaseFn == nil {
		return nil, errors.New("unexpected ReleaseEscrow call")
	}
	return f.releaseFn(ctx, contractID, approver)
}

func (f *fakeEscrowClient) DistributeEarnings(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
	if f.distributeFn == nil {
		return nil, errors.New("unexpected DistributeEarnings call")
	}
	return f.distributeFn(ctx, contractID, signer)
}

func (f *fakeEscrowClient) GetEscrowStatus(ctx context.Context, contractID string) (*escrowgw.EscrowStatus, error) {
	if f.statusFn == nil {
		return nil, errors.New("unexpected GetEscrowStatus call")
	}
	return f.statusFn(ctx, contractID)
}

func (f *fakeEscrowClient) GetEscrowByEngagementID(ctx context.Context, engagementID string) (*escrowgw.Contract, error) {
	if f.byEngagementFn == nil {
		return nil, errors.New("unexpected GetEscrowByEngagementID call")
	}
	return f.byEngagementFn(ctx, engagementID)
}

func (f *fakeEscrowClient) SearchBySigner(ctx context.Context, walletAddress string) ([]escrowgw.Contract, error) {
	if f.bySignerFn == nil {
		return nil, errors.New("unexpected SearchBySigner call")
	}
	return f.bySignerFn(ctx, walletAddress)
}

type fakeSubmitter struct {
	submitFn func(ctx context.Context, signedXDR string) (*stellar.SubmitResult, error)
}

func (f *fakeSubmitter) SubmitTransaction(ctx context.Context, signedXDR string) (*stellar.SubmitResult, error) {
	if f.submitFn == nil {
		return nil, errors.New("unexpected SubmitTransaction call")
	}
	return f.submitFn(ctx, signedXDR)
}

func (f *fakeSubmitter) NetworkPassphrase() string {
	return "Test SDF Network ; September 2015"
}

// memLease mirrors the redis semantics in a map for tests.
type memLease struct {
	mu      sync.Mutex
	holders map[string]string
}

func newMemLease() *memLease {
	return &memLease{holders: map[string]string{}}
}

func (l *memLease) Acquire(_ context.Context, contractID, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.holders[contractID]; taken {
		return false, nil
	}
	l.holders[contractID] = holder
	return true, nil
}

func (l *memLease) Held(_ context.Context, contractID, holder string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[contractID] == holder, nil
}

func (l *memLease) Extend(context.Context, string) error { return nil }

func (l *memLease) Release(_ context.Context, contractID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, contractID)
	return nil
}

type fakeGate struct {
	verified bool
}

func (g *fakeGate) AllVerified(context.Context, string) (bool, error) {
	return g.verified, nil
}

// promptCountingSigner counts how many signing prompts the user would see.
type promptCountingSigner struct {
	prompts  int
	cancelAt int // cancel on the nth prompt, 0 = never
}

func (s *promptCountingSigner) Sign(_ context.Context, unsignedXDR, _ string) (string, error) {
	s.prompts++
	if s.cancelAt > 0 && s.prompts == s.cancelAt {
		return "", signing.ErrCancelled
	}
	return "signed:" + unsignedXDR, nil
}

// ========================================================
// Setup
// ========================================================

const (
	testContractID = "CBESCROW123"
	testSigner     = "GAPPROVER"
)

type testEnv struct {
	svc   *Service
	flow  *Flow
	db    *gorm.DB
	lease *memLease
}

func newTestEnv(t *testing.T, client *fakeEscrowClient, ledger stellar.Submitter, gate ReleaseGate) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{},
		&milestone.Milestone{},
		&activity.Activity{},
		&activity.Award{},
		&ReleaseCheckpoint{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	lease := newMemLease()
	svc := &Service{
		db:         db,
		node:       node,
		escrow:     client,
		ledger:     ledger,
		lease:      lease,
		gate:       gate,
		campaign:   repository.ProvideStore[campaign.Campaign](db),
		milestone:  repository.ProvideStore[milestone.Milestone](db),
		checkpoint: repository.ProvideStore[ReleaseCheckpoint](db),
		activity:   repository.ProvideStore[activity.Activity](db),
		award:      repository.ProvideStore[activity.Award](db),
	}

	return &testEnv{svc: svc, flow: NewFlow(svc), db: db, lease: lease}
}

func seedReleasable(t *testing.T, db *gorm.DB) {
	t.Helper()

	escrowID := testContractID
	require.NoError(t, db.Create(&campaign.Campaign{
		CampaignID:     "100",
		OrganizationID: "org-1",
		Name:           "Clean Water",
		Cost:           1000,
		Currency:       "USDC",
		Status:         campaign.CampaignStatusActive,
		EscrowID:       &escrowID,
		WalletAddress:  testSigner,
	}).Error)

	require.NoError(t, db.Create(&milestone.Milestone{
		MilestoneID: "200",
		CampaignID:  "100",
		Title:       "Phase 1",
		Amount:      1000,
		Currency:    "USDC",
		Status:      milestone.MilestoneStatusInProgress,
	}).Error)

	require.NoError(t, db.Create(&activity.Activity{
		ActivityID:         "300",
		MilestoneID:        "200",
		BeneficiaryID:      "user-1",
		Status:             activity.ActivityStatusVerified,
		EvidenceStatus:     activity.EvidenceStatusSubmitted,
		EvaluationStatus:   activity.ReviewStatusApproved,
		VerificationStatus: activity.ReviewStatusApproved,
	}).Error)

	require.NoError(t, db.Create(&activity.Award{
		AwardID:    "500",
		ActivityID: "300",
		Status:     activity.AwardStatusPending,
	}).Error)
}

func stepClient() *fakeEscrowClient {
	unsigned := func(step string) func(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
		return func(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
			return &escrowgw.TxResult{ContractID: contractID, UnsignedXDR: "xdr:" + step}, nil
		}
	}
	return &fakeEscrowClient{
		changeStatusFn: unsigned("change_status"),
		approveFn:      unsigned("approve"),
		releaseFn:      unsigned("release"),
		distributeFn:   unsigned("payout"),
	}
}

func countingLedger(submissions *int) *fakeSubmitter {
	return &fakeSubmitter{
		submitFn: func(ctx context.Context, signedXDR string) (*stellar.SubmitResult, error) {
			*submissions++
			return &stellar.SubmitResult{
				Hash:       fmt.Sprintf("hash-%d", *submissions),
				Successful: true,
			}, nil
		},
	}
}

// ========================================================
// Release Protocol
// ========================================================

func TestFlow_HappyPathFourPromptsThenCompleted(t *testing.T) {
	var submissions int
	env := newTestEnv(t, stepClient(), countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)

	signer := &promptCountingSigner{}
	require.NoError(t, env.flow.Run(context.Background(), "100", "200", testSigner, signer))

	require.Equal(t, 4, signer.prompts)
	require.Equal(t, 4, submissions)

	var cmp campaign.Campaign
	require.NoError(t, env.db.First(&cmp, "campaign_id = ?", "100").Error)
	require.Equal(t, campaign.CampaignStatusCompleted, cmp.Status)

	var mst milestone.Milestone
	require.NoError(t, env.db.First(&mst, "milestone_id = ?", "200").Error)
	require.Equal(t, milestone.MilestoneStatusPaid, mst.Status)

	var award activity.Award
	require.NoError(t, env.db.First(&award, "award_id = ?", "500").Error)
	require.Equal(t, activity.AwardStatusFinalized, award.Status)
	require.NotNil(t, award.Hash)
	require.Equal(t, "hash-4", *award.Hash)

	held, err := env.lease.Held(context.Background(), testContractID, testSigner)
	require.NoError(t, err)
	require.False(t, held, "lease must be freed after payout")
}

func TestFlow_AlreadyApprovedSkipsPrompt(t *testing.T) {
	var submissions int
	client := stepClient()
	client.approveFn = func(ctx context.Context, contractID, approver string) (*escrowgw.TxResult, error) {
		return &escrowgw.TxResult{ContractID: contractID, AlreadyApproved: true}, nil
	}
	env := newTestEnv(t, client, countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)

	signer := &promptCountingSigner{}
	require.NoError(t, env.flow.Run(context.Background(), "100", "200", testSigner, signer))

	// change_status, release, payout prompt; approve does not.
	require.Equal(t, 3, signer.prompts)
	require.Equal(t, 3, submissions)

	var cp ReleaseCheckpoint
	require.NoError(t, env.db.First(&cp, "contract_id = ? AND step = ?", testContractID, StepApprove).Error)
	require.Empty(t, cp.TxHash)
}

func TestFlow_CancellationAtStepTwoHaltsWithoutMutation(t *testing.T) {
	var submissions int
	env := newTestEnv(t, stepClient(), countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)

	signer := &promptCountingSigner{cancelAt: 2}
	err := env.flow.Run(context.Background(), "100", "200", testSigner, signer)
	require.True(t, signing.IsCancelled(err))

	// Step one committed and stays committed.
	var count int64
	require.NoError(t, env.db.Model(&ReleaseCheckpoint{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var cmp campaign.Campaign
	require.NoError(t, env.db.First(&cmp, "campaign_id = ?", "100").Error)
	require.Equal(t, campaign.CampaignStatusReleasing, cmp.Status)
	require.NotEqual(t, campaign.CampaignStatusCompleted, cmp.Status)

	var award activity.Award
	require.NoError(t, env.db.First(&award, "award_id = ?", "500").Error)
	require.Equal(t, activity.AwardStatusPending, award.Status)
	require.Nil(t, award.Hash)

	held, err := env.lease.Held(context.Background(), testContractID, testSigner)
	require.NoError(t, err)
	require.False(t, held, "halt must free the lease")
}

func TestFlow_ResumesAfterHalt(t *testing.T) {
	var submissions int
	env := newTestEnv(t, stepClient(), countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()

	err := env.flow.Run(ctx, "100", "200", testSigner, &promptCountingSigner{cancelAt: 3})
	require.True(t, signing.IsCancelled(err))

	resumable, err := env.flow.Resumable(ctx, "100", "200")
	require.NoError(t, err)
	require.True(t, resumable)

	// Second run only prompts for the two remaining steps.
	signer := &promptCountingSigner{}
	require.NoError(t, env.flow.Run(ctx, "100", "200", testSigner, signer))
	require.Equal(t, 2, signer.prompts)

	var cmp campaign.Campaign
	require.NoError(t, env.db.First(&cmp, "campaign_id = ?", "100").Error)
	require.Equal(t, campaign.CampaignStatusCompleted, cmp.Status)
}

func TestPrepareStep_RequiresVerifiedActivities(t *testing.T) {
	env := newTestEnv(t, stepClient(), &fakeSubmitter{}, &fakeGate{verified: false})
	seedReleasable(t, env.db)

	_, err := env.svc.PrepareStep(context.Background(), "100", "200", StepChangeStatus, testSigner)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestPrepareStep_RefusesDraftCampaign(t *testing.T) {
	var submissions int
	env := newTestEnv(t, stepClient(), countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)
	require.NoError(t, env.db.Model(&campaign.Campaign{}).
		Where("campaign_id = ?", "100").
		Update("status", campaign.CampaignStatusDraft).Error)

	err := env.flow.Run(context.Background(), "100", "200", testSigner, &promptCountingSigner{})
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
	require.Zero(t, submissions)

	// No funds moved, nothing recorded, lease never taken.
	var count int64
	require.NoError(t, env.db.Model(&ReleaseCheckpoint{}).Count(&count).Error)
	require.Zero(t, count)

	taken, err := env.lease.Acquire(context.Background(), testContractID, testSigner)
	require.NoError(t, err)
	require.True(t, taken)
}

func TestPrepareStep_LeaseConflict(t *testing.T) {
	env := newTestEnv(t, stepClient(), &fakeSubmitter{}, &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	taken, err := env.lease.Acquire(ctx, testContractID, "GOTHERADMIN")
	require.NoError(t, err)
	require.True(t, taken)

	_, err = env.svc.PrepareStep(ctx, "100", "200", StepChangeStatus, testSigner)
	requireStatus(t, err, errutil.StatusConflict)
}

func TestPrepareStep_EnforcesOrdering(t *testing.T) {
	env := newTestEnv(t, stepClient(), &fakeSubmitter{}, &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	taken, err := env.lease.Acquire(ctx, testContractID, testSigner)
	require.NoError(t, err)
	require.True(t, taken)

	_, err = env.svc.PrepareStep(ctx, "100", "200", StepRelease, testSigner)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)
}

func TestPrepareStep_GatewayFailureFreesFreshLease(t *testing.T) {
	client := stepClient()
	client.changeStatusFn = func(ctx context.Context, contractID, signer string) (*escrowgw.TxResult, error) {
		return nil, errutil.BadGateway("escrow service unavailable")
	}
	env := newTestEnv(t, client, &fakeSubmitter{}, &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	_, err := env.svc.PrepareStep(ctx, "100", "200", StepChangeStatus, testSigner)
	require.Error(t, err)

	// A retry can re-acquire immediately.
	taken, err := env.lease.Acquire(ctx, testContractID, testSigner)
	require.NoError(t, err)
	require.True(t, taken)
}

func TestSubmitStep_LedgerFailurePreservedAndNothingRecorded(t *testing.T) {
	ledgerErr := errors.New("tx_bad_seq")
	ledger := &fakeSubmitter{
		submitFn: func(ctx context.Context, signedXDR string) (*stellar.SubmitResult, error) {
			return nil, ledgerErr
		},
	}
	env := newTestEnv(t, stepClient(), ledger, &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	_, err := env.svc.PrepareStep(ctx, "100", "200", StepChangeStatus, testSigner)
	require.NoError(t, err)

	_, err = env.svc.SubmitStep(ctx, "100", "200", StepChangeStatus, testSigner,
		signing.WalletResponse{SignedTxXDR: "signed"})
	require.ErrorIs(t, err, ledgerErr)

	var count int64
	require.NoError(t, env.db.Model(&ReleaseCheckpoint{}).Count(&count).Error)
	require.Zero(t, count)

	var cmp campaign.Campaign
	require.NoError(t, env.db.First(&cmp, "campaign_id = ?", "100").Error)
	require.Equal(t, campaign.CampaignStatusActive, cmp.Status)
}

func TestSubmitStep_StrayCancellationKeepsLease(t *testing.T) {
	env := newTestEnv(t, stepClient(), &fakeSubmitter{}, &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	_, err := env.svc.PrepareStep(ctx, "100", "200", StepChangeStatus, testSigner)
	require.NoError(t, err)

	// A cancel from a session that never held the lease must not evict the
	// active signer.
	outcome, err := env.svc.SubmitStep(ctx, "100", "200", StepChangeStatus, "GOTHERADMIN",
		signing.WalletResponse{Error: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.True(t, outcome.Cancelled)

	held, err := env.lease.Held(ctx, testContractID, testSigner)
	require.NoError(t, err)
	require.True(t, held)
}

func TestSubmitStep_RefusesCompletedStep(t *testing.T) {
	var submissions int
	env := newTestEnv(t, stepClient(), countingLedger(&submissions), &fakeGate{verified: true})
	seedReleasable(t, env.db)

	ctx := context.Background()
	_, err := env.svc.PrepareStep(ctx, "100", "200", StepChangeStatus, testSigner)
	require.NoError(t, err)

	_, err = env.svc.SubmitStep(ctx, "100", "200", StepChangeStatus, testSigner,
		signing.WalletResponse{SignedTxXDR: "signed"})
	require.NoError(t, err)

	_, err = env.svc.SubmitStep(ctx, "100", "200", StepChangeStatus, testSigner,
		signing.WalletResponse{SignedTxXDR: "signed"})
	requireStatus(t, err, errutil.StatusConflict)
	require.Equal(t, 1, submissions)
}

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, want, be.Status())
}
