package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/payrail/creditcore/internal/config"
	"github.com/payrail/creditcore/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(RegisterSnowflake),
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.SnowflakeNodeID)
	if err != nil {
		panic(err)
	}
	return node
}
