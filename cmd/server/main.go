// Command server runs a demo service protected by quotafence, plus the
// admin API for stats introspection and key resets.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quotafence/quotafence/api"
	"github.com/quotafence/quotafence/metrics"
	"github.com/quotafence/quotafence/pkg/quotafence"
	"github.com/quotafence/quotafence/store"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		configPath = flag.String("config", "", "YAML config file with endpoint groups")
		redisAddr  = flag.String("redis", os.Getenv("REDIS_ADDR"), "Redis address for shared quotas (empty = in-memory)")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	collector := metrics.NewCollector()

	opts := []quotafence.Option{
		quotafence.WithLogger(logger),
		quotafence.WithStats(collector),
	}

	if *configPath != "" {
		opts = append(opts, quotafence.WithConfigFile(*configPath))
	} else {
		opts = append(opts, quotafence.WithGroups(defaultGroups()))
	}

	if *redisAddr != "" {
		rs := store.NewRedisStore(store.RedisConfig{Addr: *redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.String("addr", *redisAddr), zap.Error(err))
		}
		defer rs.Close()
		logger.Info("using Redis-backed quotas", zap.String("addr", *redisAddr))
		opts = append(opts, quotafence.WithDistributedStore(rs, quotafence.DefaultRemoteTimeout))
	}

	limiter, err := quotafence.NewLimiter(opts...)
	if err != nil {
		logger.Fatal("failed to build limiter", zap.Error(err))
	}
	stopJanitors := limiter.StartJanitors(time.Minute)
	defer stopJanitors()

	admin := api.NewHandler(limiter, collector)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(requestLogger(logger))

	r.Method(http.MethodPost, "/login",
		limiter.Middleware("auth-login", http.HandlerFunc(loginHandler)))
	r.Handle("/api/*",
		limiter.MiddlewareWithUser("general-api", bearerUserID, http.HandlerFunc(apiHandler)))
	r.Method(http.MethodPost, "/export",
		limiter.MiddlewareWithUser("export", bearerUserID, http.HandlerFunc(exportHandler)))

	r.Get("/v1/stats", admin.GetStats)
	r.Post("/v1/reset", admin.Reset)
	r.Get("/healthz", admin.Health)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// defaultGroups is the built-in policy set used when no config file is given.
// Sliding window on login for precise burst control against credential
// stuffing, token bucket on the general API to tolerate legitimate bursts,
// leaky bucket on exports to smooth heavy operations.
func defaultGroups() map[string]quotafence.GroupConfig {
	return map[string]quotafence.GroupConfig{
		"auth-login": {
			Algorithm:          quotafence.SlidingWindow,
			MaxRequests:        5,
			Window:             time.Minute,
			ViolationThreshold: 3,
			BlockDuration:      15 * time.Minute,
		},
		"general-api": {
			Algorithm:   quotafence.TokenBucket,
			MaxRequests: 60,
			Window:      time.Minute,
			BurstSize:   10,
		},
		"export": {
			Algorithm:   quotafence.LeakyBucket,
			MaxRequests: 10,
			Window:      time.Minute,
			// Exports are heavier than simple reads.
			Weight: func(*quotafence.Request) float64 { return 2 },
		},
	}
}

func loginHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status":"login attempt accepted"}`))
}

func apiHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status":"ok"}`))
}

func exportHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status":"export queued"}`))
}

// bearerUserID treats the bearer token as the principal id for the demo.
// A real deployment resolves the token to a user id.
func bearerUserID(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
