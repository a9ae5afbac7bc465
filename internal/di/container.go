package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-goods/api/internal/commerce"
	"github.com/meridian-goods/api/internal/payments"
	"github.com/meridian-goods/api/internal/platform/config"
	"github.com/meridian-goods/api/internal/platform/idempotency"
	"github.com/meridian-goods/api/internal/repositories"
	"github.com/meridian-goods/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Sessions   services.SessionService
	Checkout   services.CheckoutService
	Reconcile  services.ReconciliationService
	Orders     services.OrderCreationService
	OrderViews services.OrderQueryService
	Sweeper    services.PendingSweeper
	System     services.SystemService
}

// Dependencies carries the externally constructed clients the container wires together.
// main owns their lifecycles; the container only composes them.
type Dependencies struct {
	Commerce *commerce.Client
	Stripe   *payments.StripeProvider
	PayPal   *payments.PayPalProvider
	Pending  repositories.PendingCheckoutRepository
	Health   repositories.HealthRepository
	Markers  *idempotency.Markers
	Events   services.OrderEventPublisher
	Build    services.BuildInfo
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Services Services
}

// NewContainer constructs the runtime service graph from the provided dependencies.
func NewContainer(cfg config.Config, deps Dependencies) (*Container, error) {
	if deps.Commerce == nil {
		return nil, errors.New("commerce client is required")
	}
	if deps.Stripe == nil {
		return nil, errors.New("stripe provider is required")
	}
	if deps.PayPal == nil {
		return nil, errors.New("paypal provider is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("pending checkout repository is required")
	}
	if deps.Markers == nil {
		return nil, errors.New("idempotency markers are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc, err := buildServices(cfg, deps, clock)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:   cfg,
		Services: svc,
	}, nil
}

func buildServices(cfg config.Config, deps Dependencies, clock func() time.Time) (Services, error) {
	var svc Services

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Commerce: deps.Commerce,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	sessionSvc, err := services.NewSessionService(services.SessionServiceDeps{
		Commerce: deps.Commerce,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build session service: %w", err)
	}
	svc.Sessions = sessionSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Commerce:         deps.Commerce,
		Pending:          deps.Pending,
		Stripe:           deps.Stripe,
		PayPal:           deps.PayPal,
		ReturnURLBase:    cfg.Checkout.StoreBaseURL,
		PayPalReturnPath: cfg.Checkout.PayPalReturnPath,
		StoreBaseURL:     cfg.Checkout.StoreBaseURL,
		PendingTTL:       cfg.Checkout.PendingTTL,
		Clock:            clock,
		Logger:           deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderCreationService(services.OrderCreationServiceDeps{
		Commerce: deps.Commerce,
		Stripe:   deps.Stripe,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order creation service: %w", err)
	}
	svc.Orders = orderSvc

	reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Pending:      deps.Pending,
		Markers:      deps.Markers,
		Stripe:       deps.Stripe,
		PayPal:       deps.PayPal,
		Orders:       orderSvc,
		Events:       deps.Events,
		StoreBaseURL: cfg.Checkout.StoreBaseURL,
		Clock:        clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconcile = reconcileSvc

	orderQuerySvc, err := services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Commerce: deps.Commerce,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order query service: %w", err)
	}
	svc.OrderViews = orderQuerySvc

	sweeper, err := services.NewPendingSweeper(services.PendingSweeperDeps{
		Pending: deps.Pending,
		Clock:   clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pending sweeper: %w", err)
	}
	svc.Sweeper = sweeper

	if deps.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
