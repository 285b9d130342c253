package audit

import (
	"github.com/payrail/creditcore/internal/audit/repository"
	"github.com/payrail/creditcore/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
