package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/payrail/creditcore/internal/audit"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	"github.com/payrail/creditcore/internal/bill"
	billdomain "github.com/payrail/creditcore/internal/bill/domain"
	"github.com/payrail/creditcore/internal/clock"
	"github.com/payrail/creditcore/internal/config"
	"github.com/payrail/creditcore/internal/credit"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	"github.com/payrail/creditcore/internal/customer"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	"github.com/payrail/creditcore/internal/idempotency"
	"github.com/payrail/creditcore/internal/journal"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	"github.com/payrail/creditcore/internal/migration"
	"github.com/payrail/creditcore/internal/observability"
	obsmiddleware "github.com/payrail/creditcore/internal/observability/logger"
	obsmetrics "github.com/payrail/creditcore/internal/observability/metrics"
	obstracing "github.com/payrail/creditcore/internal/observability/tracing"
	"github.com/payrail/creditcore/internal/payment"
	paymentdomain "github.com/payrail/creditcore/internal/payment/domain"
	"github.com/payrail/creditcore/internal/ratelimit"
	"github.com/payrail/creditcore/internal/reconcile"
	"github.com/payrail/creditcore/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	config.Module,
	db.Module,
	migration.Module,
	clock.Module,
	observability.Module,
	fx.Provide(registerGin),
	audit.Module,
	customer.Module,
	journal.Module,
	idempotency.Module,
	credit.Module,
	bill.Module,
	payment.Module,
	ratelimit.Module,
	reconcile.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
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

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	customerSvc customerdomain.Service
	creditSvc   creditdomain.Service
	billSvc     billdomain.Service
	paymentSvc  paymentdomain.Service
	journalSvc  journaldomain.Service
	auditSvc    auditdomain.Service
	limiter     *ratelimit.MutationLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	CustomerSvc customerdomain.Service
	CreditSvc   creditdomain.Service
	BillSvc     billdomain.Service
	PaymentSvc  paymentdomain.Service
	JournalSvc  journaldomain.Service
	AuditSvc    auditdomain.Service
	Limiter     *ratelimit.MutationLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		customerSvc: p.CustomerSvc,
		creditSvc:   p.CreditSvc,
		billSvc:     p.BillSvc,
		paymentSvc:  p.PaymentSvc,
		journalSvc:  p.JournalSvc,
		auditSvc:    p.AuditSvc,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.ActorRequired())

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.PATCH("/customers/:id/limits", s.UpdateCustomerLimits)

	// -------- Credit --------
	// Money-affecting routes sit behind the per-actor limiter.
	api.POST("/credit/reserve", s.mutationLimit(), s.ReserveCredit)
	api.POST("/credit/release", s.mutationLimit(), s.ReleaseCredit)

	// -------- Bills --------
	api.GET("/bills", s.ListBills)
	api.POST("/bills", s.mutationLimit(), s.CreateBill)
	api.GET("/bills/:id", s.GetBillByID)

	// -------- Payments --------
	api.GET("/payments", s.ListPayments)
	api.POST("/payments", s.mutationLimit(), s.RecordPayment)

	// -------- Journal / Audit --------
	api.GET("/journal", s.ListJournal)
	api.GET("/audit", s.ListAuditEvents)
}

func (s *Server) mutationLimit() gin.HandlerFunc {
	if s.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.limiter.Middleware()
}
