package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"gpttoolsgw/internal/config"
	"gpttoolsgw/internal/cooldown"
	"gpttoolsgw/internal/failover"
	"gpttoolsgw/internal/frontproxy"
	"gpttoolsgw/internal/gateway"
	"gpttoolsgw/internal/gwmetrics"
	"gpttoolsgw/internal/inflight"
	"gpttoolsgw/internal/oauth"
	"gpttoolsgw/internal/reqgate"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/routequality"
	"gpttoolsgw/internal/selector"
	"gpttoolsgw/internal/store"
	"gpttoolsgw/internal/tokenexchange"
	"gpttoolsgw/internal/tracelog"
	"gpttoolsgw/internal/transport"
	"gpttoolsgw/internal/usagerefresh"
	"gpttoolsgw/internal/workerpool"
	"gpttoolsgw/pkg/jwt"
)

// rpcTokenLifetime is long enough that a supervisor script started once
// at boot never has to re-read the token from the log; unlike a human
// admin session this process has no refresh flow (§1 leaves the login
// UI out of scope).
const rpcTokenLifetime = 10 * 365 * 24 * time.Hour

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	fileWriter := &lumberjack.Logger{
		Filename:   "gpttoolsgw.log",
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
	}
	defer fileWriter.Close()

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
		fileWriter,
	))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer db.Close()

	rpcSecret := cfg.RPC.Token
	if rpcSecret == "" {
		rpcSecret = randomSecret()
	}
	rpcAuth := jwt.NewManager(rpcSecret, "gpttoolsgw-rpc")
	rpcToken, _, err := rpcAuth.Generate("rpc", "rpc", rpcTokenLifetime)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to mint rpc token")
	}
	log.Info().Str("token", rpcToken).Msg("rpc surface ready; present this as X-Gpttools-Rpc-Token")

	traceFile, err := os.OpenFile("gpttoolsgw.trace.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open trace log")
	}
	defer traceFile.Close()
	trace := tracelog.New(traceFile)

	metrics := gwmetrics.New()

	cd := cooldown.NewRegistry()
	infl := inflight.New(cfg.Gateway.AccountMaxInflight)
	hints := routehint.New()
	quality := routequality.New()
	sel := selector.New(cd, infl, hints, quality)
	fo := failover.New(sel, cd, infl, hints, quality, metrics)

	usage := usagerefresh.New(db, metrics)

	exchanger := oauth.New(cfg.OAuth.Issuer, cfg.OAuth.ClientID)
	exchange := tokenexchange.New(db, exchanger)

	httpClient := transport.NewClient(transport.Config{
		MaxIdleConns:        240,
		MaxIdleConnsPerHost: 120,
		IdleConnTimeout:     90 * time.Second,
		ConnectTimeout:      cfg.Upstream.ConnectTimeout,
	})
	defer httpClient.CloseIdleConnections()

	gw := gateway.New(
		gateway.Config{
			UpstreamBaseURL:        cfg.Upstream.BaseURL,
			UpstreamFallbackBase:   cfg.Upstream.FallbackBaseURL,
			UpstreamCookie:         cfg.Upstream.Cookie,
			RequestGateWaitTimeout: cfg.Gateway.RequestGateWaitTimeout,
			TraceBodyPreviewBytes:  cfg.Gateway.TraceBodyPreviewMaxBytes,
		},
		db, db, db, exchange, fo, usage, hints,
		reqgate.New(), httpClient, metrics, trace, rpcAuth,
	)

	pool := workerpool.New(workerpool.Sizing{
		WorkerFactor: cfg.Worker.Factor,
		WorkerMin:    cfg.Worker.Min,
		QueueFactor:  cfg.Worker.QueueFactor,
		QueueMin:     cfg.Worker.QueueMin,
	})
	defer pool.StopAndWait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := http.NewServeMux()
	mux.Handle("/__shutdown", workerpool.ShutdownHandler(cancel))
	mux.Handle("/", pool.Wrap(gw))

	backendListener, err := workerpool.ListenLoopback("127.0.0.1:0", false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind backend listener")
	}
	backendSrv := &http.Server{Handler: mux}
	go func() {
		log.Info().Str("addr", backendListener.Addr().String()).Msg("backend listener started")
		if err := backendSrv.Serve(backendListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("backend listener stopped")
		}
	}()

	var frontSrv *http.Server
	if cfg.Login.Addr != "" {
		frontHandler, err := frontproxy.New(frontproxy.Config{
			BackendAddr:  backendListener.Addr().String(),
			MaxBodyBytes: cfg.FrontProxy.MaxBodyBytes,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build front proxy")
		}
		frontListener, err := workerpool.ListenLoopback(cfg.Login.Addr, cfg.Login.AllowNonLoopbackAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bind front proxy listener")
		}
		frontSrv = &http.Server{Handler: frontHandler}
		go func() {
			log.Info().Str("addr", cfg.Login.Addr).Msg("front proxy started")
			if err := frontSrv.Serve(frontListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("front proxy stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested via /__shutdown")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := backendSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("backend listener forced shutdown")
	}
	if frontSrv != nil {
		if err := frontSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("front proxy forced shutdown")
		}
	}

	log.Info().Msg("server stopped")
}

// randomSecret generates the HMAC key backing the process's RPC JWTs
// when RPC_TOKEN is not set, so a fresh secret (and therefore a fresh
// bearer token) is minted every time the process starts.
func randomSecret() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		log.Fatal().Err(err).Msg("failed to generate rpc secret")
	}
	return hex.EncodeToString(buf[:])
}
