package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payflow/internal/config"
	intentdomain "github.com/smallbiznis/payflow/internal/intent/domain"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(MetricsMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	intentSvc     intentdomain.Service
	ingestSvc     intentdomain.IngestService
	createLimiter *ratelimit.CreateIntentLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	IntentSvc     intentdomain.Service
	IngestSvc     intentdomain.IngestService
	CreateLimiter *ratelimit.CreateIntentLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		intentSvc:     p.IntentSvc,
		ingestSvc:     p.IngestSvc,
		createLimiter: p.CreateLimiter,
	}
}

func registerRoutes(s *Server) {
	s.engine.GET("/health", s.Health)
	s.engine.POST("/payments", s.CreatePayment)
	s.engine.GET("/payments/:id", s.GetPayment)
	s.engine.POST("/payments/webhook", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
