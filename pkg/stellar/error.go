package stellar

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubmitError preserves the structured problem document horizon returns for a
// failed submission.
type SubmitError struct {
	StatusCode      int
	Title           string
	Detail          string
	TransactionCode string
	OperationCodes  []string
	Raw             string
}

func (e *SubmitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction submission failed (%d)", e.StatusCode)
	if e.Title != "" {
		fmt.Fprintf(&b, ": %s", e.Title)
	}
	if e.TransactionCode != "" {
		fmt.Fprintf(&b, " tx=%s", e.TransactionCode)
	}
	if len(e.OperationCodes) > 0 {
		fmt.Fprintf(&b, " ops=%s", strings.Join(e.OperationCodes, ","))
	}
	return b.String()
}

type problemDocument struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Extras struct {
		ResultCodes struct {
			Transaction string   `json:"transaction"`
			Operations  []string `json:"operations"`
		} `json:"result_codes"`
	} `json:"extras"`
}

func parseSubmitError(status int, body []byte) *SubmitError {
	submitErr := &SubmitError{
		StatusCode: status,
		Raw:        string(body),
	}

	var problem problemDocument
	if err := json.Unmarshal(body, &problem); err != nil {
		return submitErr
	}

	submitErr.Title = problem.Title
	submitErr.Detail = problem.Detail
	submitErr.TransactionCode = problem.Extras.ResultCodes.Transaction
	submitErr.OperationCodes = problem.Extras.ResultCodes.Operations

	return submitErr
}
