package stellar

import (
	"context"
	"encoding/json"
	"time"

	"pevi-platform/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("stellar",
	fx.Provide(ProvideSubmitter),
)

// Submitter sends a signed transaction envelope to the ledger network.
type Submitter interface {
	SubmitTransaction(ctx context.Context, signedXDR string) (*SubmitResult, error)
	NetworkPassphrase() string
}

// SubmitResult is the successful ledger response for a submitted envelope.
type SubmitResult struct {
	Hash       string `json:"hash"`
	Ledger     int64  `json:"ledger"`
	Successful bool   `json:"successful"`
}

// Config is injected explicitly so tests and multi-network setups can build
// their own clients.
type Config struct {
	HorizonURL        string
	NetworkPassphrase string
	RequestTimeout    time.Duration
}

type Client struct {
	client     *resty.Client
	passphrase string
}

func ProvideSubmitter(cfg *config.Config) Submitter {
	return NewClient(Config{
		HorizonURL:        cfg.Ledger.HorizonURL,
		NetworkPassphrase: cfg.Ledger.NetworkPassphrase,
		RequestTimeout:    cfg.Ledger.RequestTimeout,
	})
}

func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		passphrase: cfg.NetworkPassphrase,
		client: resty.New().
			SetBaseURL(cfg.HorizonURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) NetworkPassphrase() string {
	return c.passphrase
}

// SubmitTransaction posts the signed envelope to the horizon endpoint. A
// rejected submission comes back as a *SubmitError carrying the ledger's
// result codes verbatim; these encode actionable detail (bad sequence,
// insufficient fee, timeout) and must not be collapsed into a generic string.
func (c *Client) SubmitTransaction(ctx context.Context, signedXDR string) (*SubmitResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"tx": signedXDR}).
		Post("/transactions")
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		submitErr := parseSubmitError(resp.StatusCode(), resp.Body())
		zap.L().Error("ledger rejected transaction",
			zap.Int("status", resp.StatusCode()),
			zap.String("transaction_code", submitErr.TransactionCode),
			zap.Strings("operation_codes", submitErr.OperationCodes),
		)
		return nil, submitErr
	}

	var result SubmitResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}

	return &result, nil
}
