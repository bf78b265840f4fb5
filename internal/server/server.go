package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/donorflow/internal/cache"
	"github.com/smallbiznis/donorflow/internal/captcha"
	"github.com/smallbiznis/donorflow/internal/checkout"
	checkoutdomain "github.com/smallbiznis/donorflow/internal/checkout/domain"
	"github.com/smallbiznis/donorflow/internal/cloudmetrics"
	"github.com/smallbiznis/donorflow/internal/config"
	"github.com/smallbiznis/donorflow/internal/contact"
	"github.com/smallbiznis/donorflow/internal/donation"
	donationdomain "github.com/smallbiznis/donorflow/internal/donation/domain"
	"github.com/smallbiznis/donorflow/internal/fraud"
	"github.com/smallbiznis/donorflow/internal/newsletter"
	newsletterdomain "github.com/smallbiznis/donorflow/internal/newsletter/domain"
	frauddomain "github.com/smallbiznis/donorflow/internal/fraud/domain"
	"github.com/smallbiznis/donorflow/internal/notification"
	"github.com/smallbiznis/donorflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/donorflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/donorflow/internal/observability/tracing"
	"github.com/smallbiznis/donorflow/internal/organization"
	orgdomain "github.com/smallbiznis/donorflow/internal/organization/domain"
	"github.com/smallbiznis/donorflow/internal/payment"
	paymentdomain "github.com/smallbiznis/donorflow/internal/payment/domain"
	"github.com/smallbiznis/donorflow/internal/providers"
	"github.com/smallbiznis/donorflow/internal/ratelimit"
	"github.com/smallbiznis/donorflow/internal/receipt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the HTTP surface and every domain module it serves.
var Module = fx.Module("http.server",
	cache.Module,
	ratelimit.Module,
	captcha.Module,
	organization.Module,
	contact.Module,
	newsletter.Module,
	fraud.Module,
	providers.Module,
	notification.Module,
	donation.Module,
	payment.Module,
	checkout.Module,
	receipt.Module,
	cloudmetrics.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           withPublicCORS(cfg, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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

type receiptRenderer interface {
	Render(ctx context.Context, identity, donationID string) (receipt.Document, error)
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	donationSvc donationdomain.Service
	fraudSvc    frauddomain.Service
	checkoutSvc checkoutdomain.Service
	paymentSvc  paymentdomain.Service
	orgSvc      orgdomain.Service
	newsletter  newsletterdomain.Service
	receipts    receiptRenderer
	limiter     *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	DonationSvc donationdomain.Service
	FraudSvc    frauddomain.Service
	CheckoutSvc checkoutdomain.Service
	PaymentSvc  paymentdomain.Service
	OrgSvc      orgdomain.Service
	Newsletter  newsletterdomain.Service
	Receipts    *receipt.Service
	Limiter     *ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		donationSvc: p.DonationSvc,
		fraudSvc:    p.FraudSvc,
		checkoutSvc: p.CheckoutSvc,
		paymentSvc:  p.PaymentSvc,
		orgSvc:      p.OrgSvc,
		newsletter:  p.Newsletter,
		limiter:     p.Limiter,
	}
	if p.Receipts != nil {
		svc.receipts = p.Receipts
	}

	svc.RegisterAPIRoutes()
	svc.RegisterPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
	api.GET("/stripe/connect/callback", s.HandleStripeConnectCallback)

	staff := api.Group("", s.StaffAuth(), OrgContext())
	{
		staff.POST("/donations", s.CreateDonation)
		staff.GET("/donations", s.ListDonations)
		staff.GET("/donations/review", s.ListDonationsForReview)
		staff.GET("/donations/:id", s.GetDonation)
		staff.GET("/donations/:id/receipt", s.GetDonationReceipt)

		staff.GET("/fraud/stats", s.GetFraudStats)
		staff.GET("/fraud/high-risk", s.ListHighRiskDonations)

		staff.POST("/checkout/sessions", s.CreateCheckoutSession)

		staff.GET("/stripe/connect/status", s.GetStripeConnectStatus)
		staff.POST("/stripe/connect/authorize", s.AuthorizeStripeConnect)
		staff.POST("/stripe/connect/disconnect", s.DisconnectStripeConnect)

		staff.GET("/rate-limits/:policy/:identity", s.GetRateLimit)
		staff.DELETE("/rate-limits/:policy/:identity", s.ResetRateLimit)
	}
}
