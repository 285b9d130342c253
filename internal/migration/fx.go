package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// Embedded migrations target postgres; sqlite instances (tests, local
		// scratch) migrate through AutoMigrate in the test harness instead.
		if !strings.EqualFold(conn.Dialector.Name(), "postgres") {
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
