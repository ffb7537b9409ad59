package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/merchantkit/paygate/internal/config"
	"github.com/merchantkit/paygate/internal/logger"
	"github.com/merchantkit/paygate/internal/metrics"
	"github.com/merchantkit/paygate/internal/order"
	"github.com/merchantkit/paygate/internal/orderlock"
	"github.com/merchantkit/paygate/internal/payment"
	"github.com/merchantkit/paygate/internal/server"
	"github.com/merchantkit/paygate/internal/subscription"
	"github.com/merchantkit/paygate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		metrics.Module,
		orderlock.Module,
		order.Module,
		payment.Module,
		subscription.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
