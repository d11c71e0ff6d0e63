package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/chat"
	"github.com/openpaas/chat-service/internal/config"
	routeconversations "github.com/openpaas/chat-service/internal/plugin/route/conversations"
	routemessages "github.com/openpaas/chat-service/internal/plugin/route/messages"
	routesystem "github.com/openpaas/chat-service/internal/plugin/route/system"
	storemetrics "github.com/openpaas/chat-service/internal/plugin/store/metrics"
	registrybus "github.com/openpaas/chat-service/internal/registry/bus"
	registrymigrate "github.com/openpaas/chat-service/internal/registry/migrate"
	registryroute "github.com/openpaas/chat-service/internal/registry/route"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/resourcelink"
	"github.com/openpaas/chat-service/internal/security"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config        *config.Config
	Store         registrystore.ChatStore
	Bus           registrybus.EventBus
	Router        *gin.Engine
	Conversations *chat.ConversationService
	Messages      *chat.MessageService
	Bridge        *chat.CollaborationBridge
	Port          int

	httpServer   *http.Server
	stopListener func()
}

// Shutdown gracefully shuts down the server: stops consuming events, drains
// in-flight HTTP requests, then closes the bus.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopListener != nil {
		s.stopListener()
	}
	err := s.httpServer.Shutdown(ctx)
	if busErr := s.Bus.Close(); busErr != nil && err == nil {
		err = busErr
	}
	return err
}

// StartServer initializes all subsystems and starts the HTTP listener.
// Use cfg.Listener.Port=0 for a random port; the actual port is Server.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat service",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"bus", cfg.BusType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	ctx = config.WithContext(ctx, cfg)

	// Run migrations
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Initialize event bus
	busLoader, err := registrybus.Select(cfg.BusType)
	if err != nil {
		return nil, err
	}
	eventBus, err := busLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}

	// Assemble services
	var stars chat.StarChecker = resourcelink.Noop{}
	if cfg.ResourceLinkURL != "" {
		stars = resourcelink.New(cfg.ResourceLinkURL)
	}
	conversations := chat.NewConversationService(store, eventBus)
	messages := chat.NewMessageService(store, eventBus, stars)
	bridge := chat.NewCollaborationBridge(store, eventBus)

	// Start consuming collaboration join events.
	listener := chat.NewJoinListener(eventBus, messages)
	stopListener, err := listener.Start()
	if err != nil {
		return nil, err
	}

	// Bootstrap default channels for configured domains.
	for _, domain := range strings.Split(cfg.BootstrapDomains, ",") {
		domain = strings.TrimSpace(domain)
		if domain == "" {
			continue
		}
		conv, err := conversations.CreateDefaultChannel(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap default channel for domain %s: %w", domain, err)
		}
		log.Info("Default channel ready", "domain", domain, "conversation", conv.ID)
	}

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.AccessLog {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	// Create shared token resolver and auth middleware, then mount the API.
	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)
	routeconversations.MountRoutes(router, conversations, auth)
	routemessages.MountRoutes(router, conversations, messages, auth)

	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Listener.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: cfg.Listener.ReadHeaderTimeout,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "err", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	routesystem.MarkReady()
	log.Info("Server listening", "port", port)

	return &Server{
		Config:        cfg,
		Store:         store,
		Bus:           eventBus,
		Router:        router,
		Conversations: conversations,
		Messages:      messages,
		Bridge:        bridge,
		Port:          port,
		httpServer:    httpServer,
		stopListener:  stopListener,
	}, nil
}
