package escrowgw

import "encoding/json"

// The escrow service serializes the contract identifier under different names
// depending on the endpoint (contractId on creation, escrowId on status,
// bare id on lookups). Everything funnels through this decoder so calling
// code only ever sees the canonical ContractID.
type rawContract struct {
	ContractID   string          `json:"contractId"`
	EscrowID     string          `json:"escrowId"`
	ID           string          `json:"id"`
	EngagementID string          `json:"engagementId"`
	Balance      json.Number     `json:"balance"`
	Status       string          `json:"status"`
	Approver     string          `json:"approver"`
	Signer       string          `json:"signer"`
	UnsignedXDR  string          `json:"unsignedTransaction"`
	XDR          string          `json:"xdr"`
	Message      string          `json:"message"`
	Milestones   json.RawMessage `json:"milestones"`
}

func (r rawContract) contractID() string {
	switch {
	case r.ContractID != "":
		return r.ContractID
	case r.EscrowID != "":
		return r.EscrowID
	default:
		return r.ID
	}
}

func (r rawContract) unsignedXDR() string {
	if r.UnsignedXDR != "" {
		return r.UnsignedXDR
	}
	return r.XDR
}

func (r rawContract) toContract() Contract {
	return Contract{
		ContractID:   r.contractID(),
		EngagementID: r.EngagementID,
		Balance:      r.Balance.String(),
		Status:       EscrowState(r.Status),
		Signer:       r.Signer,
	}
}
