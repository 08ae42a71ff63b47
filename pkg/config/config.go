// Package config decodes the edge-link configuration tree using
// viper, so the binaries can be configured from a file, environment
// variables, or flags without bespoke decoding logic.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ReliabilityConfig configures the retransmit queue and the ACK/NAK
// scheduler.
type ReliabilityConfig struct {
	RetransmitQueueCap  int           `mapstructure:"retransmitQueueCap"`
	MaxRetransmits      int           `mapstructure:"maxRetransmits"`
	MinRetransmitAgeMs  time.Duration `mapstructure:"minRetransmitAgeMs"`
	MaxRetransmitAgeMs  time.Duration `mapstructure:"maxRetransmitAgeMs"`
	RetransmitAgeRTTMul float64       `mapstructure:"retransmitAgeRttMultiplier"`
	IdleThresholdMs     time.Duration `mapstructure:"idleThresholdMs"`
	ForceDrainMs        time.Duration `mapstructure:"forceDrainMs"`
	AckIntervalMs       time.Duration `mapstructure:"ackIntervalMs"`
	AckResendIntervalMs time.Duration `mapstructure:"ackResendIntervalMs"`
	NakTimeoutMs        time.Duration `mapstructure:"nakTimeoutMs"`
	MaxSendsPerSecond   float64       `mapstructure:"maxSendsPerSecond"`
}

// CongestionConfig configures the AIMD controller.
type CongestionConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	TargetRTTMs    float64 `mapstructure:"targetRttMs"`
	NominalDeltaMs float64 `mapstructure:"nominalDeltaTimerMs"`
	MinDeltaMs     float64 `mapstructure:"minDeltaTimerMs"`
	MaxDeltaMs     float64 `mapstructure:"maxDeltaTimerMs"`
}

// BondingLinkConfig names one endpoint of the bond.
type BondingLinkConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	Interface string `mapstructure:"interface"`
}

// BondingFailoverConfig configures the failover/failback state
// machine.
type BondingFailoverConfig struct {
	RTTThresholdMs      float64       `mapstructure:"rttThreshold"`
	LossThreshold       float64       `mapstructure:"lossThreshold"`
	HealthCheckInterval time.Duration `mapstructure:"healthCheckInterval"`
	FailbackDelay       time.Duration `mapstructure:"failbackDelay"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeatTimeout"`
}

// BondingConfig is the top-level bonding section; Enabled reports
// whether both primary and backup links were configured.
type BondingConfig struct {
	Enabled  bool                  `mapstructure:"enabled"`
	Primary  BondingLinkConfig     `mapstructure:"primary"`
	Backup   BondingLinkConfig     `mapstructure:"backup"`
	Failover BondingFailoverConfig `mapstructure:"failover"`
}

// AlertThreshold is one metric's warning/critical cutoffs.
type AlertThreshold struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// ServerType distinguishes the client and server roles.
type ServerType string

const (
	ServerTypeClient ServerType = "client"
	ServerTypeServer ServerType = "server"
)

// Config is the fully decoded configuration for one edge-link process.
type Config struct {
	SecretKey         string                    `mapstructure:"secretKey"`
	ProtocolVersion   int                       `mapstructure:"protocolVersion"`
	ServerType        ServerType                `mapstructure:"serverType"`
	UDPAddress        string                    `mapstructure:"udpAddress"`
	UDPPort           int                       `mapstructure:"udpPort"`
	UseMsgpack        bool                      `mapstructure:"useMsgpack"`
	UsePathDictionary bool                      `mapstructure:"usePathDictionary"`
	Reliability       ReliabilityConfig         `mapstructure:"reliability"`
	CongestionControl CongestionConfig          `mapstructure:"congestionControl"`
	Bonding           BondingConfig             `mapstructure:"bonding"`
	AlertThresholds   map[string]AlertThreshold `mapstructure:"alertThresholds"`
	StateDir          string                    `mapstructure:"stateDir"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("protocolVersion", 2)
	v.SetDefault("useMsgpack", false)
	v.SetDefault("usePathDictionary", true)

	v.SetDefault("reliability.retransmitQueueCap", 1024)
	v.SetDefault("reliability.maxRetransmits", 8)
	v.SetDefault("reliability.minRetransmitAgeMs", 200*time.Millisecond)
	v.SetDefault("reliability.maxRetransmitAgeMs", 5*time.Second)
	v.SetDefault("reliability.retransmitAgeRttMultiplier", 4.0)
	v.SetDefault("reliability.idleThresholdMs", 10*time.Second)
	v.SetDefault("reliability.forceDrainMs", 30*time.Second)
	v.SetDefault("reliability.ackIntervalMs", 200*time.Millisecond)
	v.SetDefault("reliability.ackResendIntervalMs", time.Second)
	v.SetDefault("reliability.nakTimeoutMs", 150*time.Millisecond)
	v.SetDefault("reliability.maxSendsPerSecond", 0.0)

	v.SetDefault("congestionControl.enabled", true)
	v.SetDefault("congestionControl.targetRttMs", 150.0)
	v.SetDefault("congestionControl.nominalDeltaTimerMs", 200.0)
	v.SetDefault("congestionControl.minDeltaTimerMs", 50.0)
	v.SetDefault("congestionControl.maxDeltaTimerMs", 2000.0)

	v.SetDefault("bonding.failover.rttThreshold", 300.0)
	v.SetDefault("bonding.failover.lossThreshold", 0.2)
	v.SetDefault("bonding.failover.healthCheckInterval", time.Second)
	v.SetDefault("bonding.failover.failbackDelay", 10*time.Second)
	v.SetDefault("bonding.failover.heartbeatTimeout", 3*time.Second)

	v.SetDefault("stateDir", "./state")
}

// Load reads configuration from built-in defaults, the file at path (if
// non-empty), and environment variables prefixed EDGE_LINK_, in that
// order of increasing precedence, and decodes it into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("EDGE_LINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Bonding.Enabled = cfg.Bonding.Primary.Address != "" && cfg.Bonding.Backup.Address != ""

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.SecretKey) != 32 {
		return fmt.Errorf("config: secretKey must be 32 characters, got %d", len(cfg.SecretKey))
	}
	if cfg.ProtocolVersion != 1 && cfg.ProtocolVersion != 2 {
		return fmt.Errorf("config: protocolVersion must be 1 or 2, got %d", cfg.ProtocolVersion)
	}
	if cfg.ServerType != ServerTypeClient && cfg.ServerType != ServerTypeServer {
		return fmt.Errorf("config: serverType must be client or server, got %q", cfg.ServerType)
	}
	if cfg.UDPAddress == "" {
		return fmt.Errorf("config: udpAddress is required")
	}
	if cfg.UDPPort <= 0 || cfg.UDPPort > 65535 {
		return fmt.Errorf("config: udpPort out of range: %d", cfg.UDPPort)
	}
	return nil
}
