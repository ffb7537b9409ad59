package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/merchantkit/paygate/internal/config"
	"github.com/merchantkit/paygate/internal/metrics"
	orderdomain "github.com/merchantkit/paygate/internal/order/domain"
	"github.com/merchantkit/paygate/internal/payment/lifecycle"
	"github.com/merchantkit/paygate/internal/payment/processor"
	"github.com/merchantkit/paygate/internal/payment/webhook"
	subscriptionservice "github.com/merchantkit/paygate/internal/subscription/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	settings   *config.SettingsHolder
	orders     orderdomain.Repository
	reconciler *webhook.Service
	bridge     *lifecycle.Service
	processor  *processor.Client
	subs       *subscriptionservice.Service
	metrics    *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Settings   *config.SettingsHolder
	Orders     orderdomain.Repository
	Reconciler *webhook.Service
	Bridge     *lifecycle.Service
	Processor  *processor.Client
	Subs       *subscriptionservice.Service `optional:"true"`
	Metrics    *metrics.Metrics             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		settings:   p.Settings,
		orders:     p.Orders,
		reconciler: p.Reconciler,
		bridge:     p.Bridge,
		processor:  p.Processor,
		subs:       p.Subs,
		metrics:    p.Metrics,
	}

	p.Gin.POST("/payment-callback", s.HandlePaymentCallback)
	p.Gin.GET("/payment-return", s.HandlePaymentReturn)
	p.Gin.POST("/checkout-session", s.HandleCreateCheckoutSession)
	p.Gin.POST("/orders/:id/status", s.HandleOrderStatusTransition)
	p.Gin.GET("/orders/:id/notes", s.HandleListOrderNotes)
	if s.subs != nil {
		p.Gin.POST("/subscriptions", s.HandleCreateSubscription)
		p.Gin.POST("/subscriptions/:ref/renew", s.HandleRenewSubscription)
		p.Gin.POST("/subscriptions/renew-due", s.HandleRenewDueSubscriptions)
	}

	return s
}
