// Package intake assembles the multi-tenant call intake stack: tenant
// directory, per-tenant admission controllers, the ingress router, and
// the command/query wrappers that expose them.
package intake

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-intake/cache"
	intakecommand "github.com/goliatone/go-intake/command"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/directory"
	"github.com/goliatone/go-intake/fleet"
	"github.com/goliatone/go-intake/ingress"
	"github.com/goliatone/go-intake/intent"
	intakequery "github.com/goliatone/go-intake/query"
)

type Config = core.Config

func DefaultConfig() Config {
	return core.DefaultConfig()
}

type Option func(*serviceOptions)

type serviceOptions struct {
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	repository      core.Repository
	cacheStore      cache.Store
	directoryCache  repositorycache.CacheService
	classifier      core.Classifier
	handlers        map[core.Intent]core.IntentHandler
	defaultHandler  core.IntentHandler
	defaultRules    []core.RedirectionRule
	deduper         ingress.Deduper
	metrics         core.MetricsRecorder
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	now             func() time.Time
}

func WithLogger(logger core.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *serviceOptions) { o.loggerProvider = provider }
}

func WithRepository(repo core.Repository) Option {
	return func(o *serviceOptions) { o.repository = repo }
}

func WithCacheStore(store cache.Store) Option {
	return func(o *serviceOptions) { o.cacheStore = store }
}

func WithDirectoryCache(service repositorycache.CacheService) Option {
	return func(o *serviceOptions) { o.directoryCache = service }
}

func WithClassifier(classifier core.Classifier) Option {
	return func(o *serviceOptions) { o.classifier = classifier }
}

func WithIntentHandlers(handlers map[core.Intent]core.IntentHandler) Option {
	return func(o *serviceOptions) { o.handlers = handlers }
}

func WithDefaultHandler(handler core.IntentHandler) Option {
	return func(o *serviceOptions) { o.defaultHandler = handler }
}

func WithDefaultRules(rules []core.RedirectionRule) Option {
	return func(o *serviceOptions) { o.defaultRules = rules }
}

func WithDeduper(deduper ingress.Deduper) Option {
	return func(o *serviceOptions) { o.deduper = deduper }
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = metrics }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *serviceOptions) { o.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *serviceOptions) { o.optionsResolver = resolver }
}

func WithNow(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// Commands are the mutating entry points, ready to register on a
// go-command registry or dispatch directly.
type Commands struct {
	InitializeFleet     *intakecommand.InitializeFleetCommand
	InitializeStore     *intakecommand.InitializeStoreCommand
	DeactivateStore     *intakecommand.DeactivateStoreCommand
	UpdateConfiguration *intakecommand.UpdateConfigurationCommand
	RouteContact        *intakecommand.RouteContactCommand
	PruneMetrics        *intakecommand.PruneMetricsCommand
}

type Queries struct {
	GetStoreStatus      *intakequery.GetStoreStatusQuery
	ListFleetStatuses   *intakequery.ListFleetStatusesQuery
	GetDailyReport      *intakequery.GetDailyReportQuery
	GetRedirectionRules *intakequery.GetRedirectionRulesQuery
}

// Service owns the assembled intake stack for one process.
type Service struct {
	config       Config
	logger       core.Logger
	repo         core.Repository
	cacheStore   cache.Store
	directory    *directory.Directory
	orchestrator *fleet.Orchestrator
	router       *ingress.Router
	commands     Commands
	queries      Queries
	now          func() time.Time
}

// New resolves configuration and wires the full stack. The runtime cfg
// argument is the highest-precedence configuration layer; a provider,
// when given, contributes the middle layer.
func New(cfg Config, opts ...Option) (*Service, error) {
	options := serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}

	if options.repository == nil {
		return nil, fmt.Errorf("intake: repository is required")
	}

	_, logger := glog.Resolve("intake", options.loggerProvider, options.logger)

	resolved, err := resolveConfig(cfg, options)
	if err != nil {
		return nil, err
	}

	cacheStore := options.cacheStore
	if cacheStore == nil {
		cacheStore = cache.NewMemoryStore()
	}

	classifier := options.classifier
	if classifier == nil {
		classifier = intent.NewKeywordClassifier(nil)
	}

	directoryCache := options.directoryCache
	if directoryCache == nil {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = resolved.Directory.CacheTTL()
		directoryCache, err = repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("intake: directory cache setup failed: %w", err)
		}
	}

	dir, err := directory.New(options.repository, directoryCache, logger)
	if err != nil {
		return nil, err
	}

	orchestrator, err := fleet.NewOrchestrator(fleet.Config{
		Repository:     options.repository,
		Cache:          cacheStore,
		Classifier:     classifier,
		Handlers:       options.handlers,
		DefaultHandler: options.defaultHandler,
		DefaultRules:   options.defaultRules,
		Admission:      resolved.Admission,
		Warmer:         dir,
		Metrics:        options.metrics,
		Logger:         logger,
		Now:            options.now,
	})
	if err != nil {
		return nil, err
	}

	deduper := options.deduper
	if deduper == nil {
		if window := resolved.Ingress.DedupeWindow(); window > 0 {
			deduper = ingress.NewWindowDeduper(ingress.DedupeOptions{
				Window: window,
				Now:    options.now,
			})
		}
	}

	router, err := ingress.NewRouter(ingress.RouterConfig{
		Directory:   dir,
		Controllers: orchestrator,
		Deduper:     deduper,
		Metrics:     options.metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	now := options.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	svc := &Service{
		config:       resolved,
		logger:       logger,
		repo:         options.repository,
		cacheStore:   cacheStore,
		directory:    dir,
		orchestrator: orchestrator,
		router:       router,
		now:          now,
	}
	svc.commands = Commands{
		InitializeFleet:     intakecommand.NewInitializeFleetCommand(orchestrator),
		InitializeStore:     intakecommand.NewInitializeStoreCommand(orchestrator),
		DeactivateStore:     intakecommand.NewDeactivateStoreCommand(orchestrator),
		UpdateConfiguration: intakecommand.NewUpdateConfigurationCommand(orchestrator),
		RouteContact:        intakecommand.NewRouteContactCommand(router),
		PruneMetrics:        intakecommand.NewPruneMetricsCommand(orchestrator),
	}
	svc.queries = Queries{
		GetStoreStatus:      intakequery.NewGetStoreStatusQuery(orchestrator),
		ListFleetStatuses:   intakequery.NewListFleetStatusesQuery(orchestrator),
		GetDailyReport:      intakequery.NewGetDailyReportQuery(orchestrator),
		GetRedirectionRules: intakequery.NewGetRedirectionRulesQuery(orchestrator),
	}

	return svc, nil
}

func resolveConfig(runtime Config, options serviceOptions) (Config, error) {
	defaults := core.DefaultConfig()

	loaded := defaults
	if options.configProvider != nil {
		var err error
		loaded, err = options.configProvider.Load(context.Background(), defaults)
		if err != nil {
			return Config{}, fmt.Errorf("intake: config load failed: %w", err)
		}
	}

	resolver := options.optionsResolver
	if resolver == nil {
		resolver = core.GoOptionsResolver{}
	}
	resolved, err := resolver.Resolve(defaults, loaded, runtime)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Repository() core.Repository {
	if s == nil {
		return nil
	}
	return s.repo
}

func (s *Service) CacheStore() cache.Store {
	if s == nil {
		return nil
	}
	return s.cacheStore
}

func (s *Service) Directory() *directory.Directory {
	if s == nil {
		return nil
	}
	return s.directory
}

func (s *Service) Orchestrator() *fleet.Orchestrator {
	if s == nil {
		return nil
	}
	return s.orchestrator
}

func (s *Service) Router() *ingress.Router {
	if s == nil {
		return nil
	}
	return s.router
}

func (s *Service) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *Service) Queries() Queries {
	if s == nil {
		return Queries{}
	}
	return s.queries
}

// Bootstrap initializes controllers for every active tenant and warms
// the directory cache.
func (s *Service) Bootstrap(ctx context.Context) (fleet.BootstrapResult, error) {
	if s == nil || s.orchestrator == nil {
		return fleet.BootstrapResult{}, fmt.Errorf("intake: service is not configured")
	}
	return s.orchestrator.InitializeAllActive(ctx)
}

// Route routes one inbound contact event end to end.
func (s *Service) Route(ctx context.Context, payload core.ContactPayload) core.RouteResult {
	if s == nil || s.router == nil {
		return core.RouteResult{Success: false, Action: core.ActionErrorMessage}
	}
	return s.router.Route(ctx, payload)
}

// PruneMetrics deletes per-day counters older than the configured
// metrics retention window.
func (s *Service) PruneMetrics(ctx context.Context) (int64, error) {
	if s == nil || s.orchestrator == nil {
		return 0, fmt.Errorf("intake: service is not configured")
	}
	return s.orchestrator.PruneMetrics(ctx, s.config.Metrics.Retention(), s.now())
}

// Shutdown drains every controller. Safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil || s.orchestrator == nil {
		return nil
	}
	return s.orchestrator.Shutdown(ctx)
}
