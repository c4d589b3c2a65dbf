package escrowgw

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pevi-platform/pkg/errutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client is the typed boundary to the external escrow service.
type Client interface {
	CreateEscrow(ctx context.Context, params CreateParams) (*CreateResult, error)
	FundEscrow(ctx context.Context, contractID, amount, senderPublicKey string) (*TxResult, error)
	ChangeMilestoneStatus(ctx context.Context, contractID, signer string) (*TxResult, error)
	ApproveMilestone(ctx context.Context, contractID, approver string) (*TxResult, error)
	ReleaseEscrow(ctx context.Context, contractID, approver string) (*TxResult, error)
	DistributeEarnings(ctx context.Context, contractID, signer string) (*TxResult, error)
	GetEscrowStatus(ctx context.Context, contractID string) (*EscrowStatus, error)
	GetEscrowByEngagementID(ctx context.Context, engagementID string) (*Contract, error)
	SearchBySigner(ctx context.Context, walletAddress string) ([]Contract, error)
}

// Config is injected explicitly; no package-level environment reads.
type Config struct {
	BaseURL         string
	APIKey          string
	PlatformAddress string
	RequestTimeout  time.Duration
	// TrustlineIssuers maps a currency code to its asset issuer. A currency
	// missing from the map is treated as the native asset.
	TrustlineIssuers map[string]string
}

type client struct {
	http *resty.Client
	cfg  Config
}

func NewClient(cfg Config) Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	return &client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("x-api-key", cfg.APIKey),
	}
}

func (c *client) CreateEscrow(ctx context.Context, params CreateParams) (*CreateResult, error) {
	trustline := map[string]string{"code": params.Currency}
	if issuer, ok := c.cfg.TrustlineIssuers[params.Currency]; ok && issuer != "" {
		trustline["issuer"] = issuer
	}

	payload := map[string]interface{}{
		"engagementId":    params.EngagementID,
		"title":           params.Title,
		"description":     params.Description,
		"approver":        params.Approver,
		"serviceProvider": params.Receiver,
		"receiver":        params.Receiver,
		"releaseSigner":   params.Approver,
		"disputeResolver": c.cfg.PlatformAddress,
		"platformAddress": c.cfg.PlatformAddress,
		"platformFee":     "0",
		"amount":          params.Amount,
		"trustline":       trustline,
		"milestones": []map[string]string{
			{"description": params.Description},
		},
	}

	raw, err := c.post(ctx, "/deployer/single-release", payload)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{
		ContractID:  raw.contractID(),
		UnsignedXDR: raw.unsignedXDR(),
		Status:      EscrowState(raw.Status),
	}

	if result.ContractID == "" && result.UnsignedXDR == "" {
		return nil, errutil.BadGateway("escrow service returned neither a contract id nor an unsigned transaction")
	}

	return result, nil
}

func (c *client) FundEscrow(ctx context.Context, contractID, amount, senderPublicKey string) (*TxResult, error) {
	raw, err := c.post(ctx, "/escrow/single-release/fund-escrow", map[string]string{
		"contractId": contractID,
		"amount":     amount,
		"signer":     senderPublicKey,
	})
	if err != nil {
		return nil, err
	}
	return c.txResult(contractID, raw)
}

func (c *client) ChangeMilestoneStatus(ctx context.Context, contractID, signer string) (*TxResult, error) {
	raw, err := c.post(ctx, "/escrow/single-release/change-milestone-status", map[string]string{
		"contractId":      contractID,
		"milestoneIndex":  "0",
		"newStatus":       "completed",
		"serviceProvider": signer,
	})
	if err != nil {
		return nil, err
	}
	return c.txResult(contractID, raw)
}

func (c *client) ApproveMilestone(ctx context.Context, contractID, approver string) (*TxResult, error) {
	raw, err := c.post(ctx, "/escrow/single-release/approve-milestone", map[string]string{
		"contractId":     contractID,
		"milestoneIndex": "0",
		"approver":       approver,
	})
	if err != nil {
		if isAlreadyApproved(err) {
			return &TxResult{ContractID: contractID, AlreadyApproved: true}, nil
		}
		return nil, err
	}

	if isAlreadyApprovedMessage(raw.Message) {
		return &TxResult{ContractID: contractID, AlreadyApproved: true}, nil
	}

	return c.txResult(contractID, raw)
}

func (c *client) ReleaseEscrow(ctx context.Context, contractID, approver string) (*TxResult, error) {
	raw, err := c.post(ctx, "/escrow/single-release/release-funds", map[string]string{
		"contractId":    contractID,
		"releaseSigner": approver,
	})
	if err != nil {
		return nil, err
	}
	return c.txResult(contractID, raw)
}

func (c *client) DistributeEarnings(ctx context.Context, contractID, signer string) (*TxResult, error) {
	raw, err := c.post(ctx, "/escrow/single-release/distribute-escrow-earnings", map[string]string{
		"contractId": contractID,
		"signer":     signer,
	})
	if err != nil {
		return nil, err
	}
	return c.txResult(contractID, raw)
}

func (c *client) GetEscrowStatus(ctx context.Context, contractID string) (*EscrowStatus, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/escrow/" + contractID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, remoteError(resp)
	}

	var raw rawContract
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	return &EscrowStatus{
		ContractID: raw.contractID(),
		Balance:    raw.Balance.String(),
		Status:     EscrowState(raw.Status),
	}, nil
}

// GetEscrowByEngagementID returns (nil, nil) when no contract exists for the
// engagement. That window between campaign creation and contract confirmation
// is the expected common case, not a failure.
func (c *client) GetEscrowByEngagementID(ctx context.Context, engagementID string) (*Contract, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/escrow/engagement/" + engagementID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, remoteError(resp)
	}

	var raw rawContract
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	if raw.contractID() == "" {
		return nil, nil
	}

	contract := raw.toContract()
	return &contract, nil
}

func (c *client) SearchBySigner(ctx context.Context, walletAddress string) ([]Contract, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("signer", walletAddress).
		Get("/escrow")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, remoteError(resp)
	}

	var raws []rawContract
	if err := json.Unmarshal(resp.Body(), &raws); err != nil {
		return nil, err
	}

	contracts := make([]Contract, 0, len(raws))
	for _, raw := range raws {
		contracts = append(contracts, raw.toContract())
	}

	return contracts, nil
}

func (c *client) post(ctx context.Context, path string, payload interface{}) (*rawContract, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, remoteError(resp)
	}

	var raw rawContract
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	return &raw, nil
}

func (c *client) txResult(contractID string, raw *rawContract) (*TxResult, error) {
	result := &TxResult{
		ContractID:  raw.contractID(),
		UnsignedXDR: raw.unsignedXDR(),
	}
	if result.ContractID == "" {
		result.ContractID = contractID
	}
	if result.UnsignedXDR == "" {
		return nil, errutil.BadGateway("escrow service returned no transaction to sign")
	}
	return result, nil
}

// remoteError surfaces a non-success response with the body text preserved so
// callers can decide to roll back or leave the local record pending.
func remoteError(resp *resty.Response) error {
	body := strings.TrimSpace(string(resp.Body()))
	zap.L().Error("escrow service request failed",
		zap.String("url", resp.Request.URL),
		zap.Int("status", resp.StatusCode()),
		zap.String("body", body),
	)
	return errutil.BadGateway("escrow service request failed", errutil.WithDetails(errutil.Detail{
		Field:   "response",
		Message: body,
	}))
}

func isAlreadyApproved(err error) bool {
	var be errutil.BaseError
	if !errors.As(err, &be) {
		return false
	}
	for _, d := range be.Details {
		if isAlreadyApprovedMessage(d.Message) {
			return true
		}
	}
	return false
}

func isAlreadyApprovedMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already approved")
}
