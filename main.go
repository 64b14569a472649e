package main

import (
	"context"
	"docsync-server/config"
	"docsync-server/core"
	"docsync-server/handlers/api/documents"
	apirooms "docsync-server/handlers/api/rooms"
	"docsync-server/handlers/websocket"
	tracing "docsync-server/middleware"
	"docsync-server/rooms"
	"docsync-server/stores"
	"docsync-server/telemetry"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(documentStore core.DocumentStore, manager *rooms.Manager, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(tracing.Tracing)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return websocket.AllowedOrigin(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		ExposedHeaders:   []string{tracing.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	var roomRegistry core.RoomRegistry
	if registry, ok := documentStore.(core.RoomRegistry); ok {
		roomRegistry = registry
	}

	r.Get("/api/rooms", apirooms.HandleListRooms(manager, roomRegistry))
	r.Route("/api/documents/{id}", func(r chi.Router) {
		r.Get("/", documents.HandleGet(documentStore))
		r.Put("/", documents.HandlePut(documentStore))
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", websocket.NewHandler(manager, cfg.SessionBuffer))

	return r
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, stopManager context.CancelFunc, manager *rooms.Manager, documentStore core.DocumentStore, shutdownTracing func(context.Context) error) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ioo.Close(nil)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	stopManager()
	manager.Wait()

	if closer, ok := documentStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close store")
		}
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to flush traces")
		}
	}
	logrus.Info("Shutdown complete")
}

func main() {
	cfg := config.Load()

	logLevel := flag.String("loglevel", cfg.LogLevel, "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", cfg.ListenAddr, "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	var shutdownTracing func(context.Context) error
	if cfg.JaegerEndpoint != "" {
		shutdownTracing, err = telemetry.InitJaeger("docsync-server", cfg.JaegerEndpoint)
		if err != nil {
			logrus.WithError(err).Warn("Tracing disabled")
		}
	}

	documentStore, err := stores.GetStore(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}

	if err := rooms.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logrus.WithError(err).Fatal("Failed to register metrics")
	}

	manager := rooms.NewManager(documentStore, rooms.WithPersistTimeout(cfg.PersistTimeout))
	managerCtx, stopManager := context.WithCancel(context.Background())
	go manager.Run(managerCtx)

	r := setupRouter(documentStore, manager, cfg)
	ioo := websocket.SetupSocketIO(manager)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, ioo, stopManager, manager, documentStore, shutdownTracing)
}
