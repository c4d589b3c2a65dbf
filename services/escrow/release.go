package escrow

import (
	"context"
	"errors"

	"pevi-platform/pkg/errutil"
	"pevi-platform/pkg/signing"

	"go.uber.org/zap"
)

// Flow drives the whole release sequence against a programmatic signer. The
// browser path goes step by step through the HTTP endpoints instead; Flow
// exists for server-held keys and for exercising the protocol end to end.
type Flow struct {
	svc *Service
}

func NewFlow(svc *Service) *Flow {
	return &Flow{svc: svc}
}

// Run executes every remaining release step in order, resuming past steps
// that are already checkpointed. It halts on the first cancellation or
// failure; completed steps stay committed and a later Run picks up after
// them. Assumes the escrow service rejects or no-ops a release or payout
// request against a contract that already moved; that guarantee has not
// been verified against the real service.
func (f *Flow) Run(ctx context.Context, campaignID, milestoneID, signerWallet string, signer signing.Signer) error {
	target, err := f.svc.resolveTarget(ctx, campaignID, milestoneID)
	if err != nil {
		return err
	}

	done, err := f.svc.completedSteps(ctx, target.contractID)
	if err != nil {
		return err
	}

	for _, step := range stepOrder {
		if done[step] {
			continue
		}

		prompt, err := f.svc.PrepareStep(ctx, campaignID, milestoneID, step, signerWallet)
		if err != nil {
			return err
		}
		if prompt.AlreadyApproved {
			continue
		}

		signedXDR, err := signer.Sign(ctx, prompt.UnsignedXDR, f.svc.ledger.NetworkPassphrase())
		if err != nil {
			if relErr := f.svc.lease.Release(ctx, target.contractID); relErr != nil {
				zap.L().Warn("failed to release lease after signing halt", zap.Error(relErr))
			}
			if signing.IsCancelled(err) {
				return err
			}
			return errutil.BadRequest(err.Error())
		}

		outcome, err := f.svc.SubmitStep(ctx, campaignID, milestoneID, step, signerWallet,
			signing.WalletResponse{SignedTxXDR: signedXDR})
		if err != nil {
			return err
		}
		if outcome.Cancelled {
			return signing.ErrCancelled
		}
	}

	return nil
}

// Resumable reports whether a halted release can continue: true when at
// least one step is checkpointed and the payout step is not.
func (f *Flow) Resumable(ctx context.Context, campaignID, milestoneID string) (bool, error) {
	target, err := f.svc.resolveTarget(ctx, campaignID, milestoneID)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) && be.Status() == errutil.StatusNotFound {
			return false, nil
		}
		return false, err
	}

	done, err := f.svc.completedSteps(ctx, target.contractID)
	if err != nil {
		return false, err
	}

	return len(done) > 0 && !done[StepPayout], nil
}
