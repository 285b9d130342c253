package bill

import (
	"github.com/payrail/creditcore/internal/bill/repository"
	"github.com/payrail/creditcore/internal/bill/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bill.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
