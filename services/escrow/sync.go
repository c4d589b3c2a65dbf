package escrow

import (
	"context"

	"pevi-platform/pkg/errutil"
	"pevi-platform/services/campaign"
	"pevi-platform/services/escrowgw"

	"go.uber.org/zap"
)

// SyncEscrowID reconciles a campaign whose escrow contract exists on-chain
// but whose row never recorded the id. Resolution order:
//
//  1. a contract id supplied by the caller is trusted and persisted directly
//  2. lookup by the canonical engagement id
//  3. lookup by the bare campaign id, kept for contracts created before the
//     engagement prefix convention
//  4. search every contract signed by the supplied wallet and match on
//     engagement id
//
// A campaign that already has its escrow id is a no-op. All lookups missing
// is a not-found result, not a hard failure: the external service may simply
// not have the contract queryable yet.
func (s *Service) SyncEscrowID(ctx context.Context, campaignID, walletAddress, contractID string) (*campaign.Campaign, error) {
	cmp, err := s.campaign.FindOne(ctx, &campaign.Campaign{CampaignID: campaignID})
	if err != nil {
		return nil, errutil.Internal("failed to load campaign", errutil.WithErr(err))
	}
	if cmp == nil {
		return nil, errutil.NotFound("campaign not found")
	}

	if cmp.HasEscrow() {
		return cmp, nil
	}

	resolved := contractID
	if resolved == "" {
		resolved, err = s.lookupContract(ctx, cmp, walletAddress)
		if err != nil {
			return nil, err
		}
	}

	if resolved == "" {
		return nil, errutil.NotFound("no escrow contract found for campaign")
	}

	if err := s.campaign.Update(ctx, cmp.CampaignID, map[string]any{"escrow_id": resolved}); err != nil {
		return nil, errutil.Internal("failed to persist escrow id", errutil.WithErr(err))
	}

	zap.L().Info("escrow id reconciled",
		zap.String("campaign_id", cmp.CampaignID),
		zap.String("contract_id", resolved),
	)

	cmp.EscrowID = &resolved
	return cmp, nil
}

func (s *Service) lookupContract(ctx context.Context, cmp *campaign.Campaign, walletAddress string) (string, error) {
	canonical := escrowgw.CampaignEngagementID(cmp.CampaignID)

	for _, engagementID := range []string{canonical, cmp.CampaignID} {
		contract, err := s.escrow.GetEscrowByEngagementID(ctx, engagementID)
		if err != nil {
			return "", err
		}
		if contract != nil && contract.ContractID != "" {
			return contract.ContractID, nil
		}
	}

	if walletAddress == "" {
		return "", nil
	}

	contracts, err := s.escrow.SearchBySigner(ctx, walletAddress)
	if err != nil {
		return "", err
	}
	for _, contract := range contracts {
		if contract.EngagementID == canonical || contract.EngagementID == cmp.CampaignID {
			return contract.ContractID, nil
		}
	}

	return "", nil
}
