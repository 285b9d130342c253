package payment

import (
	"github.com/payrail/creditcore/internal/payment/repository"
	"github.com/payrail/creditcore/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
