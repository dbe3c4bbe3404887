// Package config loads the hub's flattened configuration. Sources are merged
// as defaults < optional YAML file < IMS_HUB_* environment < flags; the
// resulting Config is validated once and treated as immutable for the life of
// the process.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Server struct {
	ListenAddr string
}

type Broker struct {
	BootstrapServers []string
	GroupID          string
	// Concurrency is the number of consumer workers per topic; the broker
	// balances partitions across them within the consumer group.
	Concurrency int
	// InventoryConcurrencyMultiplier scales workers for the inventory topic,
	// whose volume dominates.
	InventoryConcurrencyMultiplier int
	QuarantineTopic                string
}

type Wire struct {
	AllowedOrigins      []string
	SendTimeout         time.Duration
	SendBufferBytes     int
	MessageSizeLimit    int64
	HandshakeRatePerSec float64
}

type Auth struct {
	IssuerURI  string
	Audience   string
	SigningKey string
}

type Session struct {
	OutboxCapacity  int
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	HighWaterRatio  float64
	DrainGrace      time.Duration
}

type Metrics struct {
	Endpoint    string
	IntervalSec int
}

type Config struct {
	Server  Server
	Broker  Broker
	Wire    Wire
	Auth    Auth
	Session Session
	Metrics Metrics
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("broker.bootstrapServers", "localhost:9092")
	v.SetDefault("broker.groupId", "ims-event-hub")
	v.SetDefault("broker.concurrency", 10)
	v.SetDefault("broker.inventoryConcurrencyMultiplier", 2)
	v.SetDefault("broker.quarantineTopic", "")
	v.SetDefault("wire.allowedOrigins", "*")
	v.SetDefault("wire.sendTimeoutMs", 10000)
	v.SetDefault("wire.sendBufferBytes", 524288)
	v.SetDefault("wire.messageSizeLimit", 131072)
	v.SetDefault("wire.handshakeRatePerSec", 100)
	v.SetDefault("auth.issuerUri", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.signingKey", "")
	v.SetDefault("session.outboxCapacity", 1024)
	v.SetDefault("session.livenessTimeoutSec", 90)
	v.SetDefault("session.sweepIntervalSec", 30)
	v.SetDefault("session.highWaterRatio", 0.8)
	v.SetDefault("session.drainGraceMs", 2000)
	v.SetDefault("metrics.endpoint", "")
	v.SetDefault("metrics.intervalSec", 15)
}

// Load builds the immutable configuration. flags may be nil; when present its
// values override file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IMS_HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: Server{
			ListenAddr: v.GetString("server.listenAddr"),
		},
		Broker: Broker{
			BootstrapServers:               splitList(v.GetString("broker.bootstrapServers")),
			GroupID:                        v.GetString("broker.groupId"),
			Concurrency:                    v.GetInt("broker.concurrency"),
			InventoryConcurrencyMultiplier: v.GetInt("broker.inventoryConcurrencyMultiplier"),
			QuarantineTopic:                v.GetString("broker.quarantineTopic"),
		},
		Wire: Wire{
			AllowedOrigins:      splitList(v.GetString("wire.allowedOrigins")),
			SendTimeout:         time.Duration(v.GetInt("wire.sendTimeoutMs")) * time.Millisecond,
			SendBufferBytes:     v.GetInt("wire.sendBufferBytes"),
			MessageSizeLimit:    v.GetInt64("wire.messageSizeLimit"),
			HandshakeRatePerSec: v.GetFloat64("wire.handshakeRatePerSec"),
		},
		Auth: Auth{
			IssuerURI:  v.GetString("auth.issuerUri"),
			Audience:   v.GetString("auth.audience"),
			SigningKey: v.GetString("auth.signingKey"),
		},
		Session: Session{
			OutboxCapacity:  v.GetInt("session.outboxCapacity"),
			LivenessTimeout: time.Duration(v.GetInt("session.livenessTimeoutSec")) * time.Second,
			SweepInterval:   time.Duration(v.GetInt("session.sweepIntervalSec")) * time.Second,
			HighWaterRatio:  v.GetFloat64("session.highWaterRatio"),
			DrainGrace:      time.Duration(v.GetInt("session.drainGraceMs")) * time.Millisecond,
		},
		Metrics: Metrics{
			Endpoint:    v.GetString("metrics.endpoint"),
			IntervalSec: v.GetInt("metrics.intervalSec"),
		},
	}
	if cfg.Broker.QuarantineTopic == "" {
		cfg.Broker.QuarantineTopic = cfg.Broker.GroupID + ".quarantine"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case len(c.Broker.BootstrapServers) == 0:
		return fmt.Errorf("config: broker.bootstrapServers is required")
	case c.Broker.GroupID == "":
		return fmt.Errorf("config: broker.groupId is required")
	case c.Broker.Concurrency < 1:
		return fmt.Errorf("config: broker.concurrency must be >= 1")
	case c.Broker.InventoryConcurrencyMultiplier < 1:
		return fmt.Errorf("config: broker.inventoryConcurrencyMultiplier must be >= 1")
	case c.Auth.SigningKey == "":
		return fmt.Errorf("config: auth.signingKey is required")
	case c.Session.OutboxCapacity < 1:
		return fmt.Errorf("config: session.outboxCapacity must be >= 1")
	case c.Session.HighWaterRatio <= 0 || c.Session.HighWaterRatio > 1:
		return fmt.Errorf("config: session.highWaterRatio must be in (0, 1]")
	case c.Session.LivenessTimeout <= 0:
		return fmt.Errorf("config: session.livenessTimeoutSec must be positive")
	case c.Wire.MessageSizeLimit < 1:
		return fmt.Errorf("config: wire.messageSizeLimit must be >= 1")
	}
	return nil
}

// OriginAllowed applies the wire.allowedOrigins allow-list.
func (c *Config) OriginAllowed(origin string) bool {
	for _, o := range c.Wire.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
