package customer

import (
	"github.com/payrail/creditcore/internal/customer/repository"
	"github.com/payrail/creditcore/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
