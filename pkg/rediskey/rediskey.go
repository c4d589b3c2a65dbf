package rediskey

import "fmt"

// Escrow keys (global convention across services)
const (
	ReleaseLeasePrefix = "escrow:release"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildReleaseLeaseKey returns "escrow:release:{contractID}"
func BuildReleaseLeaseKey(contractID string) string {
	return NamespaceKey(ReleaseLeasePrefix, contractID)
}
