/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/cartesiancs/vessel/internal/auth"
	"github.com/cartesiancs/vessel/internal/cache"
	"github.com/cartesiancs/vessel/internal/config"
	"github.com/cartesiancs/vessel/internal/db"
	"github.com/cartesiancs/vessel/internal/events"
	"github.com/cartesiancs/vessel/internal/flow"
	"github.com/cartesiancs/vessel/internal/liveness"
	"github.com/cartesiancs/vessel/internal/logbuffer"
	"github.com/cartesiancs/vessel/internal/mqttingress"
	"github.com/cartesiancs/vessel/internal/registry"
	"github.com/cartesiancs/vessel/internal/rtpdemux"
	"github.com/cartesiancs/vessel/internal/rtsp"
	"github.com/cartesiancs/vessel/internal/session"
	"github.com/cartesiancs/vessel/internal/telemetry"
	"github.com/cartesiancs/vessel/internal/topicrouter"
	ivwebrtc "github.com/cartesiancs/vessel/internal/webrtc"
)

// Server bundles the HTTP surface and every subsystem of the hub: the
// Stream Fan-Out Plane, the Flow Execution Engine, the Topic Router, and
// the Session Actor manager (spec §3-4).
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db             *gorm.DB
	bus            events.Bus
	cache          *cache.Cache
	registry       *registry.Registry
	topicRouter    *topicrouter.Router
	rtpDemux       *rtpdemux.Demuxer
	rtspSupervisor *rtsp.Supervisor
	mqttClient     *mqttingress.Client
	liveness       *liveness.Checker
	flowManager    *flow.Manager
	flowLogs       *logbuffer.FlowLogStore
	sessionManager *session.Manager

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires every dependency described in spec
// §3-4, honoring cfg.Debug by skipping the ingress subsystems (spec §6:
// "a --debug flag disables all ingress subsystems and runs only the
// WS/HTTP server").
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("vessel-hub"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(securityHeadersMiddleware)
	// The signaling socket is long-lived; skip the request timeout for it.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" || r.URL.Path == "/signal" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if rows, err := db.GetAllSystemConfigs(database); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load system configurations, using env/CLI config only")
	} else {
		applySystemConfigs(s.cfg, rows, s.logger)
	}

	cacheLayer, err := cache.New(cache.Config{
		RedisAddr:          s.cfg.RedisAddr,
		RedisPassword:      s.cfg.RedisPassword,
		RedisDB:            s.cfg.RedisDB,
		SessionPresenceTTL: cache.DefaultSessionPresenceTTL,
		EntityStateTTL:     cache.DefaultEntityStateTTL,
		TopicMapTTL:        cache.DefaultTopicMapTTL,
		DisableOnError:     true,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	s.cache = cacheLayer
	s.DeferClose(cacheLayer.Close)

	s.registry = registry.New()
	s.topicRouter = topicrouter.New(database, s.bus, s.cache, s.logger)
	if err := s.topicRouter.RemapTopics(context.Background()); err != nil {
		return fmt.Errorf("initial topic remap: %w", err)
	}

	s.mqttClient = mqttingress.New(s.cfg.MQTTBrokerAddr, s.cfg.MQTTClientID, s.bus, s.topicRouter, s.logger)

	s.flowManager = flow.NewManager(s.bus, s.mqttClient, s.registry, s.logger)

	s.flowLogs = logbuffer.NewFlowLogStore(s.bus)

	webrtcCfg := ivwebrtc.Config{
		STUNURL:      s.cfg.WebRTCSTUNURL,
		TURNURL:      s.cfg.WebRTCTURNURL,
		TURNUsername: s.cfg.WebRTCTURNUsername,
		TURNPassword: s.cfg.WebRTCTURNPassword,
	}
	sessionDeps := session.Deps{
		Registry:     s.registry,
		Router:       s.topicRouter,
		FlowManager:  s.flowManager,
		Bus:          s.bus,
		DB:           s.db,
		WebRTCConfig: webrtcCfg,
		Cache:        s.cache,
		InstanceID:   s.cfg.InstanceID,
	}
	sessionManager, err := session.NewManager(sessionDeps, s.logger)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	s.sessionManager = sessionManager

	if s.cfg.Debug {
		s.logger.Info().Msg("debug mode: ingress subsystems (RTP demuxer, RTSP supervisor, MQTT ingress) disabled")
		return nil
	}

	s.rtpDemux = rtpdemux.New(s.cfg.RTPListenAddr, s.registry, s.logger)
	s.rtspSupervisor = rtsp.New(s.topicRouter, s.registry, s.logger)
	s.liveness = liveness.New(s.registry, s.bus, s.cfg.LivenessTickPeriod, s.cfg.LivenessWindow, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.flowManager != nil {
		s.flowManager.StopAll()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.flowLogs.Run(ctx.Done())
	}()

	if s.cfg.Debug {
		return
	}

	if err := s.mqttClient.Connect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("mqtt ingress failed to connect")
	} else {
		s.DeferClose(func() error { s.mqttClient.Disconnect(); return nil })
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.rtpDemux.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("rtp demuxer exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.rtspSupervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("rtsp supervisor exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.liveness.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("liveness checker exited")
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Post("/streams/register", s.handleRegisterStream)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware([]byte(s.cfg.JWTSigningKey)))
		r.HandleFunc("/signal", s.sessionManager.HandleSignal)
	})
}
