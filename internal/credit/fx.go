package credit

import (
	"github.com/payrail/creditcore/internal/credit/repository"
	"github.com/payrail/creditcore/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
