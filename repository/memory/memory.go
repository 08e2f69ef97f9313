package memory

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/alias-relay/entity"
)

// Storage keeps value copies of all records behind a single lock,
// so callers never share memory with the stored state.
type Storage struct {
	mu       sync.Mutex
	aliases  map[common.Hash]entity.Alias
	requests map[uuid.UUID]entity.DepositRequest
	events   map[int64]entity.DepositEvent
	registry map[common.Address]entity.TokenRegistryEntry
	lastID   int64
}

func NewStorage() *Storage {
	return &Storage{
		aliases:  make(map[common.Hash]entity.Alias),
		requests: make(map[uuid.UUID]entity.DepositRequest),
		events:   make(map[int64]entity.DepositEvent),
		registry: make(map[common.Address]entity.TokenRegistryEntry),
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
