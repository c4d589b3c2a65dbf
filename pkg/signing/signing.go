package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCancelled marks a signing prompt the user dismissed. Callers surface it
// as an informational message, not a failure.
var ErrCancelled = errors.New("signing request cancelled by user")

// Signer obtains a user signature for an unsigned transaction envelope. The
// call blocks until the holder of the key acts on it; no timeout is enforced
// here.
type Signer interface {
	Sign(ctx context.Context, unsignedXDR, networkPassphrase string) (string, error)
}

// WalletResponse mirrors the payload the browser wallet extension hands back
// after a signing prompt. Exactly one of SignedTxXDR and Error is meaningful.
type WalletResponse struct {
	SignedTxXDR string          `json:"signedTxXdr"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// Result normalizes the wallet response into a signed envelope or an error.
// The extension reports user dismissal as an empty error object, which maps
// to ErrCancelled; anything else is a hard signing failure.
func (r WalletResponse) Result() (string, error) {
	if err := ParseWalletError(r.Error); err != nil {
		return "", err
	}
	if r.SignedTxXDR == "" {
		return "", errors.New("wallet returned neither a signed envelope nor an error")
	}
	return r.SignedTxXDR, nil
}

// ParseWalletError classifies the raw error value of a wallet response.
func ParseWalletError(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if bytes.Equal(trimmed, []byte("{}")) {
		return ErrCancelled
	}

	var msg string
	if err := json.Unmarshal(trimmed, &msg); err == nil {
		return fmt.Errorf("wallet signing failed: %s", msg)
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj.Message != "" {
		return fmt.Errorf("wallet signing failed: %s", obj.Message)
	}

	return fmt.Errorf("wallet signing failed: %s", string(trimmed))
}

// IsCancelled reports whether err originates from a dismissed signing prompt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
