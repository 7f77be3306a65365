package config

// Config is the top-level YAML structure of the pipeline file.
type Config struct {
	Version string     `yaml:"version" json:"version"`
	Store   StoreConf  `yaml:"store" json:"store"`
	Ingest  IngestConf `yaml:"ingest" json:"ingest"`
	API     APIConf    `yaml:"api" json:"api"`
	Notify  NotifyConf `yaml:"notify" json:"notify"`
}

// StoreConf sizes the retained windows. Hot-reloadable.
type StoreConf struct {
	RecentTransactions int `yaml:"recent_transactions" json:"recent_transactions"`
	RecentAlerts       int `yaml:"recent_alerts" json:"recent_alerts"`
}

// IngestConf selects and tunes the push channel.
type IngestConf struct {
	Transport string        `yaml:"transport" json:"transport"` // "redis" or "none"
	Topic     string        `yaml:"topic" json:"topic"`
	Redis     RedisConf     `yaml:"redis" json:"redis"`
	Reconnect ReconnectConf `yaml:"reconnect" json:"reconnect"`
}

// RedisConf holds the Pub/Sub connection settings.
type RedisConf struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// ReconnectConf is the exponential backoff used after a transport failure.
type ReconnectConf struct {
	InitialMs  int     `yaml:"initial_ms" json:"initial_ms"`
	MaxMs      int     `yaml:"max_ms" json:"max_ms"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// APIConf tunes the HTTP surface.
type APIConf struct {
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`
}

// NotifyConf configures outbound fraud-alert webhooks.
type NotifyConf struct {
	Workers    int       `yaml:"workers" json:"workers"`
	QueueDepth int       `yaml:"queue_depth" json:"queue_depth"`
	TimeoutMs  int       `yaml:"timeout_ms" json:"timeout_ms"`
	Webhooks   []Webhook `yaml:"webhooks" json:"webhooks"`
}

// Webhook is one alert target. Alerts scoring below MinScore are skipped.
type Webhook struct {
	ID       string  `yaml:"id" json:"id"`
	URL      string  `yaml:"url" json:"url"`
	MinScore float64 `yaml:"min_score" json:"min_score"`
}
