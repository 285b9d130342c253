package idempotency

import (
	"github.com/payrail/creditcore/internal/idempotency/repository"
	"github.com/payrail/creditcore/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.guard",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
