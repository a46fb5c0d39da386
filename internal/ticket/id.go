package ticket

import (
	"strings"

	"github.com/google/uuid"
)

// Origin tells where an identifier was minted.
type Origin int

const (
	// OriginAuthority ids were assigned by the remote authority.
	OriginAuthority Origin = iota
	// OriginOffline ids were minted while unreachable and are waiting in
	// the mutation queue.
	OriginOffline
	// OriginOptimistic ids were minted for an in-flight online create.
	OriginOptimistic
)

const (
	OfflinePrefix    = "offline-"
	OptimisticPrefix = "temp-"
)

func (o Origin) String() string {
	switch o {
	case OriginOffline:
		return "offline"
	case OriginOptimistic:
		return "optimistic"
	default:
		return "authority"
	}
}

// OriginOf classifies id by its prefix.
func OriginOf(id string) Origin {
	switch {
	case strings.HasPrefix(id, OfflinePrefix):
		return OriginOffline
	case strings.HasPrefix(id, OptimisticPrefix):
		return OriginOptimistic
	default:
		return OriginAuthority
	}
}

// IsConfirmed reports whether id was assigned by the authority.
func IsConfirmed(id string) bool { return OriginOf(id) == OriginAuthority }

// IsOffline reports whether id carries the offline tag.
func IsOffline(id string) bool { return OriginOf(id) == OriginOffline }

// IsOptimistic reports whether id carries the optimistic tag.
func IsOptimistic(id string) bool { return OriginOf(id) == OriginOptimistic }

func NewOfflineID() string { return OfflinePrefix + uuid.NewString() }

func NewOptimisticID() string { return OptimisticPrefix + uuid.NewString() }
