package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported ingest transports.
const (
	TransportRedis = "redis"
	TransportNone  = "none"
)

// Validate checks the config for:
//   - Positive window sizes and worker settings
//   - A known transport with the settings it needs
//   - Webhooks with unique IDs, absolute http(s) URLs and a score threshold in [0,1]
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Store.RecentTransactions < 1 {
		errs = append(errs, fmt.Sprintf("store.recent_transactions must be positive, got %d", cfg.Store.RecentTransactions))
	}
	if cfg.Store.RecentAlerts < 1 {
		errs = append(errs, fmt.Sprintf("store.recent_alerts must be positive, got %d", cfg.Store.RecentAlerts))
	}

	switch cfg.Ingest.Transport {
	case TransportNone:
	case TransportRedis:
		if cfg.Ingest.Topic == "" {
			errs = append(errs, "ingest.topic is required")
		}
		if cfg.Ingest.Redis.Addr == "" {
			errs = append(errs, "ingest.redis.addr is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("ingest.transport %q: must be %q or %q", cfg.Ingest.Transport, TransportRedis, TransportNone))
	}
	rc := cfg.Ingest.Reconnect
	if rc.InitialMs < 1 || rc.MaxMs < rc.InitialMs {
		errs = append(errs, fmt.Sprintf("ingest.reconnect: need 0 < initial_ms <= max_ms, got %d/%d", rc.InitialMs, rc.MaxMs))
	}
	if rc.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("ingest.reconnect.multiplier must be >= 1, got %v", rc.Multiplier))
	}

	if cfg.API.MaxBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("api.max_batch_size must be positive, got %d", cfg.API.MaxBatchSize))
	}

	if cfg.Notify.Workers < 1 || cfg.Notify.QueueDepth < 1 || cfg.Notify.TimeoutMs < 1 {
		errs = append(errs, "notify: workers, queue_depth and timeout_ms must be positive")
	}
	ids := make(map[string]int)
	for i, wh := range cfg.Notify.Webhooks {
		if wh.ID == "" {
			errs = append(errs, fmt.Sprintf("notify.webhooks[%d]: id is required", i))
		} else if prev, ok := ids[wh.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate webhook id %q (webhooks[%d] and webhooks[%d])", wh.ID, prev, i))
		} else {
			ids[wh.ID] = i
		}
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("notify.webhooks[%d]: url %q must be an absolute http(s) URL", i, wh.URL))
		}
		if wh.MinScore < 0 || wh.MinScore > 1 {
			errs = append(errs, fmt.Sprintf("notify.webhooks[%d]: min_score must be within [0,1], got %v", i, wh.MinScore))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
