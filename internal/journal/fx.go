package journal

import (
	"github.com/payrail/creditcore/internal/journal/repository"
	"github.com/payrail/creditcore/internal/journal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("journal.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
