// Package config loads the gateway's runtime configuration from
// environment variables (the spec's external contract, bound
// unprefixed) with an optional local YAML overlay, following the
// teacher's viper-based Load()/parseDurations() shape.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Upstream  UpstreamConfig
	OAuth     OAuthConfig
	Usage     UsageConfig
	Login     LoginConfig
	Worker    WorkerConfig
	Gateway   GatewayConfig
	FrontProxy FrontProxyConfig
	RPC       RPCConfig
	Storage   StorageConfig
}

type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	FallbackBaseURL string       `mapstructure:"fallback_base_url"`
	Cookie         string        `mapstructure:"cookie"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type OAuthConfig struct {
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
}

type UsageConfig struct {
	BaseURL                string        `mapstructure:"base_url"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	GatewayKeepaliveInterval time.Duration `mapstructure:"gateway_keepalive_interval"`
}

type LoginConfig struct {
	RedirectURI           string `mapstructure:"redirect_uri"`
	Addr                  string `mapstructure:"addr"`
	AllowNonLoopbackAddr  bool   `mapstructure:"allow_non_loopback_addr"`
}

type WorkerConfig struct {
	Factor int `mapstructure:"factor"`
	Min    int `mapstructure:"min"`
	QueueFactor int `mapstructure:"queue_factor"`
	QueueMin    int `mapstructure:"queue_min"`
}

type GatewayConfig struct {
	AccountMaxInflight     int           `mapstructure:"account_max_inflight"`
	RequestGateWaitTimeout time.Duration `mapstructure:"request_gate_wait_timeout"`
	TraceBodyPreviewMaxBytes int         `mapstructure:"trace_body_preview_max_bytes"`
}

type FrontProxyConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type RPCConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// Load binds every environment variable from the spec's external
// interface table directly (no prefix) and fills in defaults, then
// applies an optional gpttoolsgw.yaml overlay for local development.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("gpttoolsgw")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	bind := func(key, env string) {
		_ = v.BindEnv(key, env)
	}

	bind("upstream.base_url", "UPSTREAM_BASE_URL")
	bind("upstream.fallback_base_url", "UPSTREAM_FALLBACK_BASE_URL")
	bind("upstream.cookie", "UPSTREAM_COOKIE")
	bind("upstream.connect_timeout_secs", "UPSTREAM_CONNECT_TIMEOUT_SECS")

	bind("oauth.issuer", "ISSUER")
	bind("oauth.client_id", "CLIENT_ID")

	bind("usage.base_url", "USAGE_BASE_URL")
	bind("usage.poll_interval_secs", "USAGE_POLL_INTERVAL_SECS")
	bind("usage.gateway_keepalive_interval_secs", "GATEWAY_KEEPALIVE_INTERVAL_SECS")

	bind("login.redirect_uri", "REDIRECT_URI")
	bind("login.addr", "LOGIN_ADDR")
	bind("login.allow_non_loopback_addr", "ALLOW_NON_LOOPBACK_LOGIN_ADDR")

	bind("worker.factor", "HTTP_WORKER_FACTOR")
	bind("worker.min", "HTTP_WORKER_MIN")
	bind("worker.queue_factor", "HTTP_QUEUE_FACTOR")
	bind("worker.queue_min", "HTTP_QUEUE_MIN")

	bind("gateway.account_max_inflight", "ACCOUNT_MAX_INFLIGHT")
	bind("gateway.request_gate_wait_timeout_ms", "REQUEST_GATE_WAIT_TIMEOUT_MS")
	bind("gateway.trace_body_preview_max_bytes", "TRACE_BODY_PREVIEW_MAX_BYTES")

	bind("frontproxy.max_body_bytes", "FRONT_PROXY_MAX_BODY_BYTES")

	bind("rpc.token", "RPC_TOKEN")

	bind("storage.db_path", "DB_PATH")

	v.SetDefault("upstream.base_url", "https://chatgpt.com/backend-api/codex")
	v.SetDefault("upstream.fallback_base_url", "")
	v.SetDefault("upstream.connect_timeout_secs", 15)

	v.SetDefault("usage.poll_interval_secs", 300)
	v.SetDefault("usage.gateway_keepalive_interval_secs", 60)

	v.SetDefault("login.allow_non_loopback_addr", false)
	v.SetDefault("login.addr", "localhost:48760")

	v.SetDefault("worker.factor", 4)
	v.SetDefault("worker.min", 8)
	v.SetDefault("worker.queue_factor", 4)
	v.SetDefault("worker.queue_min", 32)

	v.SetDefault("gateway.account_max_inflight", 0)
	v.SetDefault("gateway.request_gate_wait_timeout_ms", 300)
	v.SetDefault("gateway.trace_body_preview_max_bytes", 0)

	v.SetDefault("frontproxy.max_body_bytes", 16*1024*1024)

	v.SetDefault("storage.db_path", "./gpttoolsgw.db")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Upstream: UpstreamConfig{
			BaseURL:         v.GetString("upstream.base_url"),
			FallbackBaseURL: v.GetString("upstream.fallback_base_url"),
			Cookie:          v.GetString("upstream.cookie"),
			ConnectTimeout:  time.Duration(v.GetInt("upstream.connect_timeout_secs")) * time.Second,
		},
		OAuth: OAuthConfig{
			Issuer:   v.GetString("oauth.issuer"),
			ClientID: v.GetString("oauth.client_id"),
		},
		Usage: UsageConfig{
			BaseURL:                  v.GetString("usage.base_url"),
			PollInterval:             time.Duration(v.GetInt("usage.poll_interval_secs")) * time.Second,
			GatewayKeepaliveInterval: time.Duration(v.GetInt("usage.gateway_keepalive_interval_secs")) * time.Second,
		},
		Login: LoginConfig{
			RedirectURI:          v.GetString("login.redirect_uri"),
			Addr:                 v.GetString("login.addr"),
			AllowNonLoopbackAddr: v.GetBool("login.allow_non_loopback_addr"),
		},
		Worker: WorkerConfig{
			Factor:      v.GetInt("worker.factor"),
			Min:         v.GetInt("worker.min"),
			QueueFactor: v.GetInt("worker.queue_factor"),
			QueueMin:    v.GetInt("worker.queue_min"),
		},
		Gateway: GatewayConfig{
			AccountMaxInflight:       v.GetInt("gateway.account_max_inflight"),
			RequestGateWaitTimeout:   time.Duration(v.GetInt("gateway.request_gate_wait_timeout_ms")) * time.Millisecond,
			TraceBodyPreviewMaxBytes: v.GetInt("gateway.trace_body_preview_max_bytes"),
		},
		FrontProxy: FrontProxyConfig{
			MaxBodyBytes: v.GetInt64("frontproxy.max_body_bytes"),
		},
		RPC: RPCConfig{
			Token: v.GetString("rpc.token"),
		},
		Storage: StorageConfig{
			DBPath: v.GetString("storage.db_path"),
		},
	}

	normalizeUpstreamBase(cfg)
	return cfg, nil
}

// normalizeUpstreamBase mirrors the original implementation's host
// normalization: a bare chatgpt.com/chat.openai.com host gains the
// /backend-api/codex suffix, and an empty fallback defaults to the
// OpenAI v1 base when the primary is a chatgpt backend.
func normalizeUpstreamBase(cfg *Config) {
	base := strings.TrimRight(strings.TrimSpace(cfg.Upstream.BaseURL), "/")
	lower := strings.ToLower(base)
	if (strings.HasPrefix(lower, "https://chatgpt.com") || strings.HasPrefix(lower, "https://chat.openai.com")) &&
		!strings.Contains(lower, "/backend-api") {
		base += "/backend-api/codex"
	}
	cfg.Upstream.BaseURL = base

	if cfg.Upstream.FallbackBaseURL == "" && isChatGPTBackend(base) {
		cfg.Upstream.FallbackBaseURL = "https://api.openai.com/v1"
	}
}

func isChatGPTBackend(base string) bool {
	lower := strings.ToLower(base)
	return strings.Contains(lower, "chatgpt.com/backend-api") || strings.Contains(lower, "chat.openai.com/backend-api")
}
