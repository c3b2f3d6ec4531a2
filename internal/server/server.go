package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingcycledomain "github.com/stratusbill/walletd/internal/billingcycle/domain"
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	provisioningdomain "github.com/stratusbill/walletd/internal/provisioning/domain"
	reconciliationdomain "github.com/stratusbill/walletd/internal/reconciliation/domain"
	"github.com/stratusbill/walletd/internal/simulation"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
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
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	walletSvc  walletdomain.Service
	provSvc    provisioningdomain.Service
	cycleSvc   billingcycledomain.Service
	reconSvc   reconciliationdomain.Service
	recordRepo billingrecorddomain.Repository
	walletRepo walletdomain.Repository
	harness    *simulation.Harness
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	WalletSvc  walletdomain.Service
	ProvSvc    provisioningdomain.Service
	CycleSvc   billingcycledomain.Service
	ReconSvc   reconciliationdomain.Service
	RecordRepo billingrecorddomain.Repository
	WalletRepo walletdomain.Repository
	Harness    *simulation.Harness `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		clock:      p.Clock,
		walletSvc:  p.WalletSvc,
		provSvc:    p.ProvSvc,
		cycleSvc:   p.CycleSvc,
		reconSvc:   p.ReconSvc,
		recordRepo: p.RecordRepo,
		walletRepo: p.WalletRepo,
		harness:    p.Harness,
	}

	s.registerAPIRoutes()
	s.registerDevRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	orgs := v1.Group("/orgs/:org_id")
	{
		wallet := orgs.Group("/wallet")
		{
			wallet.GET("", s.GetWalletStatus)
			wallet.POST("", s.CreateWallet)
			wallet.POST("/topup", s.ManualTopup)
			wallet.POST("/topup/optimal", s.OptimalTopup)
			wallet.PUT("/auto-topup", s.ConfigureAutoTopup)
			wallet.GET("/alerts", s.GetWalletAlerts)
		}

		orgs.POST("/provisioning/validate", s.ValidateProvisioning)
		orgs.POST("/provisioning", s.Provision)

		orgs.GET("/billing/summary", s.GetBillingSummary)
	}

	v1.POST("/reconciliation", s.RunReconciliation)
}

func (s *Server) registerDevRoutes() {
	if s.cfg.IsProduction() {
		return
	}

	dev := s.engine.Group("/dev")
	dev.POST("/simulation", s.RunSimulation)
	dev.POST("/billing/run-hourly", s.RunHourlyCycle)
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

func parseOrgID(c *gin.Context) (snowflake.ID, error) {
	raw := c.Param("org_id")
	if raw == "" {
		return 0, newValidationError("org_id", "invalid_org_id", "organization id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("org_id", "invalid_org_id", "organization id must be a numeric snowflake")
	}
	return id, nil
}
