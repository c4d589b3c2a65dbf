package signing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWalletErrorEmptyObjectIsCancellation(t *testing.T) {
	err := ParseWalletError(json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrCancelled)
	require.True(t, IsCancelled(err))
}

func TestParseWalletErrorStringMessage(t *testing.T) {
	err := ParseWalletError(json.RawMessage(`"account not funded"`))
	require.Error(t, err)
	require.False(t, IsCancelled(err))
	require.Contains(t, err.Error(), "account not funded")
}

func TestParseWalletErrorObjectMessage(t *testing.T) {
	err := ParseWalletError(json.RawMessage(`{"message":"request rejected"}`))
	require.Error(t, err)
	require.False(t, IsCancelled(err))
	require.Contains(t, err.Error(), "request rejected")
}

func TestParseWalletErrorAbsent(t *testing.T) {
	require.NoError(t, ParseWalletError(nil))
	require.NoError(t, ParseWalletError(json.RawMessage(`null`)))
}

func TestWalletResponseResult(t *testing.T) {
	signed, err := WalletResponse{SignedTxXDR: "AAAA...signed"}.Result()
	require.NoError(t, err)
	require.Equal(t, "AAAA...signed", signed)

	_, err = WalletResponse{Error: json.RawMessage(`{}`)}.Result()
	require.ErrorIs(t, err, ErrCancelled)

	_, err = WalletResponse{}.Result()
	require.Error(t, err)
	require.False(t, IsCancelled(err))
}
