package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Gateway struct {
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		Currency string `yaml:"currency"`
	} `yaml:"gateway"`
	Notify struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"notify"`
	ErrTrack struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"errtrack"`
	Presence struct {
		WSEndpoint string `yaml:"ws_endpoint"`
	} `yaml:"presence"`
	Scheduler struct {
		PageLimit                 int64 `yaml:"page_limit"`
		AuthorizerIntervalSeconds int64 `yaml:"authorizer_interval_seconds"`
		ProcessorIntervalSeconds  int64 `yaml:"processor_interval_seconds"`
		CancellerIntervalSeconds  int64 `yaml:"canceller_interval_seconds"`
		AttendanceIntervalSeconds int64 `yaml:"attendance_interval_seconds"`
	} `yaml:"scheduler"`
	Billing struct {
		PaymentAuthWindowDays        int   `yaml:"payment_auth_window_days"`
		FailedPaymentAutoCancelHours int   `yaml:"failed_payment_auto_cancel_hours"`
		LateCancellationRefundPct    int64 `yaml:"late_cancellation_refund_percent"`
		LateCancellationCutoffHours  int   `yaml:"late_cancellation_cutoff_hours"`
	} `yaml:"billing"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.APIKey == "" {
		return nil, errors.New("gateway config is incomplete")
	}
	if cfg.Billing.LateCancellationRefundPct < 0 || cfg.Billing.LateCancellationRefundPct > 100 {
		return nil, errors.New("billing.late_cancellation_refund_percent must be 0..100")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = "usd"
	}
	if cfg.Scheduler.PageLimit <= 0 {
		cfg.Scheduler.PageLimit = 100
	}
	if cfg.Scheduler.AuthorizerIntervalSeconds <= 0 {
		cfg.Scheduler.AuthorizerIntervalSeconds = 300
	}
	if cfg.Scheduler.ProcessorIntervalSeconds <= 0 {
		cfg.Scheduler.ProcessorIntervalSeconds = 300
	}
	if cfg.Scheduler.CancellerIntervalSeconds <= 0 {
		cfg.Scheduler.CancellerIntervalSeconds = 3600
	}
	if cfg.Scheduler.AttendanceIntervalSeconds <= 0 {
		cfg.Scheduler.AttendanceIntervalSeconds = 600
	}
	if cfg.Billing.PaymentAuthWindowDays <= 0 {
		cfg.Billing.PaymentAuthWindowDays = 2
	}
	if cfg.Billing.FailedPaymentAutoCancelHours <= 0 {
		cfg.Billing.FailedPaymentAutoCancelHours = 48
	}
	if cfg.Billing.LateCancellationCutoffHours <= 0 {
		cfg.Billing.LateCancellationCutoffHours = 24
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_CURRENCY"); v != "" {
		cfg.Gateway.Currency = v
	}
	if v := os.Getenv("NOTIFY_BASE_URL"); v != "" {
		cfg.Notify.BaseURL = v
	}
	if v := os.Getenv("ERRTRACK_BASE_URL"); v != "" {
		cfg.ErrTrack.BaseURL = v
	}
	if v := os.Getenv("PRESENCE_WS_ENDPOINT"); v != "" {
		cfg.Presence.WSEndpoint = v
	}
	if v := os.Getenv("SCHEDULER_PAGE_LIMIT"); v != "" {
		cfg.Scheduler.PageLimit = atoi64Or(cfg.Scheduler.PageLimit, v)
	}
	if v := os.Getenv("AUTHORIZER_INTERVAL_SECONDS"); v != "" {
		cfg.Scheduler.AuthorizerIntervalSeconds = atoi64Or(cfg.Scheduler.AuthorizerIntervalSeconds, v)
	}
	if v := os.Getenv("PROCESSOR_INTERVAL_SECONDS"); v != "" {
		cfg.Scheduler.ProcessorIntervalSeconds = atoi64Or(cfg.Scheduler.ProcessorIntervalSeconds, v)
	}
	if v := os.Getenv("CANCELLER_INTERVAL_SECONDS"); v != "" {
		cfg.Scheduler.CancellerIntervalSeconds = atoi64Or(cfg.Scheduler.CancellerIntervalSeconds, v)
	}
	if v := os.Getenv("ATTENDANCE_INTERVAL_SECONDS"); v != "" {
		cfg.Scheduler.AttendanceIntervalSeconds = atoi64Or(cfg.Scheduler.AttendanceIntervalSeconds, v)
	}
	if v := os.Getenv("PAYMENT_AUTH_WINDOW_DAYS"); v != "" {
		cfg.Billing.PaymentAuthWindowDays = atoiOr(cfg.Billing.PaymentAuthWindowDays, v)
	}
	if v := os.Getenv("FAILED_PAYMENT_AUTO_CANCEL_HOURS"); v != "" {
		cfg.Billing.FailedPaymentAutoCancelHours = atoiOr(cfg.Billing.FailedPaymentAutoCancelHours, v)
	}
	if v := os.Getenv("LATE_CANCELLATION_REFUND_PERCENT"); v != "" {
		cfg.Billing.LateCancellationRefundPct = atoi64Or(cfg.Billing.LateCancellationRefundPct, v)
	}
	if v := os.Getenv("LATE_CANCELLATION_CUTOFF_HOURS"); v != "" {
		cfg.Billing.LateCancellationCutoffHours = atoiOr(cfg.Billing.LateCancellationCutoffHours, v)
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
