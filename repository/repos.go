package repository

import (
	"github.com/omni/alias-relay/db"
	"github.com/omni/alias-relay/entity"
	"github.com/omni/alias-relay/repository/memory"
	"github.com/omni/alias-relay/repository/postgres"
)

type Repo struct {
	Aliases         entity.AliasesRepo
	DepositRequests entity.DepositRequestsRepo
	DepositEvents   entity.DepositEventsRepo
	TokenRegistry   entity.TokenRegistryRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		Aliases:         postgres.NewAliasesRepo("aliases", db),
		DepositRequests: postgres.NewDepositRequestsRepo("deposit_requests", db),
		DepositEvents:   postgres.NewDepositEventsRepo("deposit_events", db),
		TokenRegistry:   postgres.NewTokenRegistryRepo("token_registry", db),
	}
}

// NewMemoryRepo returns a process-local repo, used in tests and in the storage: memory mode.
func NewMemoryRepo() *Repo {
	store := memory.NewStorage()
	return &Repo{
		Aliases:         memory.NewAliasesRepo(store),
		DepositRequests: memory.NewDepositRequestsRepo(store),
		DepositEvents:   memory.NewDepositEventsRepo(store),
		TokenRegistry:   memory.NewTokenRegistryRepo(store),
	}
}
