// Package config loads and hot-reloads the sentinel's YAML configuration.
// An fsnotify watch reloads the whole file into a Store on every write,
// but only components that read through Store.Get see the new values; in
// the sentinel binary that is the dispatcher's role filters
// (ignored_roles, process_test_notices). Every other setting, including
// the transport fields (broker credentials, socket hosts), is read once at
// startup and needs a process restart to change.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EventChannels maps alert category to a Slack channel name.
type EventChannels struct {
	GW  string `yaml:"GW"`
	GRB string `yaml:"GRB"`
	NU  string `yaml:"NU"`
}

// Config is the full set of recognized sentinel options.
type Config struct {
	FilePath         string   `yaml:"file_path"`
	HTMLPath         string   `yaml:"html_path"`
	IgnoredRoles     []string `yaml:"ignored_roles"`
	ProcessTestNotices bool   `yaml:"process_test_notices"`

	EnableSlack         bool          `yaml:"enable_slack"`
	SlackBotToken       string        `yaml:"slack_bot_token"`
	SlackDefaultChannel string        `yaml:"slack_default_channel"`
	SlackWakeupChannel  string        `yaml:"slack_wakeup_channel"`
	SlackIgnoredChannel string        `yaml:"slack_ignored_channel"`
	SlackEventChannels  EventChannels `yaml:"slack_event_channels"`

	KafkaUser     string `yaml:"kafka_user"`
	KafkaPassword string `yaml:"kafka_password"`
	KafkaBroker   string `yaml:"kafka_broker"`
	KafkaGroupID  string `yaml:"kafka_group_id"`
	// KafkaBackdate starts a fresh consumer group at the earliest retained
	// offset instead of the latest.
	KafkaBackdate bool `yaml:"kafka_backdate"`
	// KafkaMechanism selects the SASL mechanism: PLAIN or OAUTHBEARER.
	KafkaMechanism    string `yaml:"kafka_mechanism"`
	KafkaTokenURL     string `yaml:"kafka_token_url"`
	KafkaClientID     string `yaml:"kafka_client_id"`
	KafkaClientSecret string `yaml:"kafka_client_secret"`

	VOServerHost string `yaml:"voserver_host"`
	VOServerPort int    `yaml:"voserver_port"`

	LocalIVO string `yaml:"local_ivo"`

	PyroHost    string        `yaml:"pyro_host"`
	PyroPort    int           `yaml:"pyro_port"`
	PyroTimeout time.Duration `yaml:"pyro_timeout"`

	MaxConcurrentFollowups int `yaml:"max_concurrent_followups"`
}

// Defaults returns a Config populated with conservative defaults; callers
// overlay a YAML file on top via Load.
func Defaults() Config {
	return Config{
		FilePath:           "/var/lib/gtecs-alert-sentinel",
		HTMLPath:           "/var/www/gtecs-alert-sentinel",
		IgnoredRoles:       []string{"test", "utility"},
		ProcessTestNotices: false,

		EnableSlack:         false,
		SlackDefaultChannel: "#alerts",
		SlackWakeupChannel:  "#alerts-wakeup",
		SlackIgnoredChannel: "#alerts-ignored",
		SlackEventChannels: EventChannels{
			GW:  "#alerts-gw",
			GRB: "#alerts-grb",
			NU:  "#alerts-nu",
		},

		KafkaGroupID:   "gtecs-alert-sentinel",
		KafkaMechanism: "PLAIN",

		VOServerPort: 8099,

		LocalIVO: "ivo://gtecs.goto-observatory/sentinel",

		PyroPort:    9001,
		PyroTimeout: 30 * time.Second,

		MaxConcurrentFollowups: 32,
	}
}

// Load reads path, overlaying its contents onto Defaults(). A missing file
// is not an error; defaults are returned unmodified.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Store holds the live Config and notifies subscribers of reloads. Only
// non-transport fields should be mutated via reload in production; the
// sentinel restarts for transport-affecting changes (see package doc).
type Store struct {
	mu   sync.RWMutex
	cur  Config
	subs []chan Config
}

// NewStore wraps an initial Config for concurrent access and live updates.
func NewStore(initial Config) *Store {
	return &Store{cur: initial}
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set replaces the current configuration and notifies subscribers.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	s.cur = cfg
	subs := append([]chan Config(nil), s.subs...)
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Subscribe returns a channel receiving every subsequent Set call. The
// channel is buffered (size 1) and never closed by Store.
func (s *Store) Subscribe() <-chan Config {
	ch := make(chan Config, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
