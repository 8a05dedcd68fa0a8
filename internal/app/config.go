// Package app wires the relay stores, the per-bot workers and the background
// jobs into one runnable process.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/sweeper"
)

const (
	defaultAckDelay      = 3 * time.Second
	defaultNoticeDelay   = 5 * time.Second
	defaultChallengeTTL  = 24 * time.Hour
	defaultMappingTTL    = 7 * 24 * time.Hour
	defaultSweepSchedule = "0 */6 * * *"
)

// RelayConfig tunes the relay behavior shared by every bot.
type RelayConfig struct {
	AckDelay    time.Duration `yaml:"ack_delay" envconfig:"RELAY_ACK_DELAY"`
	NoticeDelay time.Duration `yaml:"notice_delay" envconfig:"RELAY_NOTICE_DELAY"`
	// ChallengeTTL is the age after which pending challenges are swept.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" envconfig:"RELAY_CHALLENGE_TTL"`
	// MappingTTL is the age after which correlation rows are swept.
	MappingTTL     time.Duration `yaml:"mapping_ttl" envconfig:"RELAY_MAPPING_TTL"`
	SweepSchedule  string        `yaml:"sweep_schedule" envconfig:"RELAY_SWEEP_SCHEDULE"`
	DefaultWelcome string        `yaml:"default_welcome" envconfig:"RELAY_DEFAULT_WELCOME"`
	// GlobalWelcome, when set, is stored as the process-wide fallback at startup.
	GlobalWelcome string `yaml:"global_welcome" envconfig:"RELAY_GLOBAL_WELCOME"`
}

// BotSeed is one bot declared in the config file. Seeds are upserted into the
// registry on startup.
type BotSeed struct {
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
	// TokenEnv names an environment variable holding the token.
	TokenEnv    string `yaml:"token_env"`
	OwnerID     int64  `yaml:"owner_id"`
	Topology    string `yaml:"topology"`
	GroupChatID int64  `yaml:"group_chat_id"`
	Welcome     string `yaml:"welcome"`
}

// Config is the full process configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database database.Config `yaml:"database"`
	Relay    RelayConfig     `yaml:"relay"`
	Bots     []BotSeed       `yaml:"bots" ignored:"true"`
}

// CoreConfig exposes the embedded core section.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// LoadConfig reads path, overlays the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Relay.normalize(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Bots))
	for i := range c.Bots {
		if err := c.Bots[i].normalize(); err != nil {
			return fmt.Errorf("bots[%d]: %w", i, err)
		}
		if _, dup := seen[c.Bots[i].Username]; dup {
			return fmt.Errorf("bots[%d]: duplicate username %q", i, c.Bots[i].Username)
		}
		seen[c.Bots[i].Username] = struct{}{}
	}
	return nil
}

func (r *RelayConfig) normalize() error {
	defaults := []struct {
		name string
		v    *time.Duration
		def  time.Duration
	}{
		{"relay.ack_delay", &r.AckDelay, defaultAckDelay},
		{"relay.notice_delay", &r.NoticeDelay, defaultNoticeDelay},
		{"relay.challenge_ttl", &r.ChallengeTTL, defaultChallengeTTL},
		{"relay.mapping_ttl", &r.MappingTTL, defaultMappingTTL},
	}
	for _, d := range defaults {
		if *d.v < 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
		if *d.v == 0 {
			*d.v = d.def
		}
	}
	r.SweepSchedule = strings.TrimSpace(r.SweepSchedule)
	if r.SweepSchedule == "" {
		r.SweepSchedule = defaultSweepSchedule
	}
	return sweeper.Validate(r.SweepSchedule)
}

func (s *BotSeed) normalize() error {
	s.Username = strings.TrimPrefix(strings.TrimSpace(s.Username), "@")
	if s.Username == "" {
		return fmt.Errorf("username is required")
	}
	if s.Token == "" && s.TokenEnv != "" {
		s.Token = os.Getenv(s.TokenEnv)
	}
	if s.Token == "" {
		return fmt.Errorf("%s: token is required (token or token_env)", s.Username)
	}
	if s.OwnerID <= 0 {
		return fmt.Errorf("%s: owner_id must be > 0", s.Username)
	}
	topo, err := botreg.ParseTopology(s.Topology)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Username, err)
	}
	s.Topology = string(topo)
	return nil
}

// Bot converts the seed into a registry row.
func (s BotSeed) Bot() botreg.Bot {
	b := botreg.Bot{
		Username:    s.Username,
		Token:       s.Token,
		OwnerID:     s.OwnerID,
		Topology:    botreg.Topology(s.Topology),
		WelcomeText: s.Welcome,
	}
	if s.GroupChatID != 0 {
		b.GroupChatID.Int64 = s.GroupChatID
		b.GroupChatID.Valid = true
	}
	return b
}
