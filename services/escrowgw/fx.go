package escrowgw

import (
	"pevi-platform/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("escrowgw.module",
	fx.Provide(ProvideClient),
)

// USDC issuers per network; currencies missing here resolve to the native asset.
var defaultTrustlineIssuers = map[string]string{
	"USDC": "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5",
}

func ProvideClient(cfg *config.Config) Client {
	return NewClient(Config{
		BaseURL:          cfg.Escrow.BaseURL,
		APIKey:           cfg.Escrow.APIKey,
		PlatformAddress:  cfg.Escrow.PlatformAddress,
		RequestTimeout:   cfg.Escrow.RequestTimeout,
		TrustlineIssuers: defaultTrustlineIssuers,
	})
}
