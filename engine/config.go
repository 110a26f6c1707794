package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagemark/annotation"
	"github.com/hazyhaar/pagemark/connectivity"
	"github.com/hazyhaar/pagemark/engine/internal/browser"
	"github.com/hazyhaar/pagemark/engine/internal/coord"
	"github.com/hazyhaar/pagemark/engine/internal/relayout"
	"github.com/hazyhaar/pagemark/engine/internal/render"
)

// Config holds all engine configuration.
type Config struct {
	Breakpoints coord.Policy    `yaml:"breakpoints"`
	Selection   SelectionConfig `yaml:"selection"`
	Display     DisplayConfig   `yaml:"display"`
	// PersistTimeout bounds one store call. Default: 5s.
	PersistTimeout time.Duration   `yaml:"persist_timeout"`
	Relayout       relayout.Config `yaml:"relayout"`
	Store          StoreConfig     `yaml:"store"`
	Browser        browser.Config  `yaml:"browser"`
	Notify         NotifyConfig    `yaml:"notify"`
	// Reviewer is the comment author when the caller carries no identity.
	Reviewer annotation.Author `yaml:"reviewer"`
	// Routes decide where connectivity services run.
	Routes []connectivity.Route `yaml:"routes"`
}

// SelectionConfig tunes the selection state machine.
type SelectionConfig struct {
	DragThreshold float64 `yaml:"drag_threshold"`
	MinRegion     float64 `yaml:"min_region"`
	// Within lists the tags of the content blocks a selection may start in.
	// Empty allows anything inside the body.
	Within []string `yaml:"within"`
}

// DisplayConfig holds the persisted visibility flags. Unset flags are on.
type DisplayConfig struct {
	ShowAll      *bool `yaml:"show_all"`
	DrawOpen     *bool `yaml:"draw_open"`
	DrawResolved *bool `yaml:"draw_resolved"`
}

// Visibility resolves the flags.
func (d DisplayConfig) Visibility() render.Visibility {
	on := func(b *bool) bool { return b == nil || *b }
	return render.Visibility{All: on(d.ShowAll), Open: on(d.DrawOpen), Resolved: on(d.DrawResolved)}
}

// StoreConfig selects the annotation backend.
type StoreConfig struct {
	// Backend is "sqlite" or "remote". Default: sqlite.
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
	HubURL  string `yaml:"hub_url"`
	Token   string `yaml:"token"`
	// Watch polls the sqlite backend at this interval and refreshes the
	// page when another writer changed it. 0 disables watching.
	Watch time.Duration `yaml:"watch"`
}

// NotifyConfig lists the notification sinks.
type NotifyConfig struct {
	Stdout       bool   `yaml:"stdout"`
	Webhook      string `yaml:"webhook"`
	WebhookToken string `yaml:"webhook_token"`
}

func (c *Config) defaults() {
	c.Breakpoints = c.Breakpoints.Normalize()
	if c.Selection.DragThreshold <= 0 {
		c.Selection.DragThreshold = 5
	}
	if c.Selection.MinRegion <= 0 {
		c.Selection.MinRegion = 10
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.Relayout.Window <= 0 {
		c.Relayout.Window = 100 * time.Millisecond
	}
	if c.Relayout.MaxBuffer <= 0 {
		c.Relayout.MaxBuffer = 64
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sqlite"
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = "pagemark.db"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = browser.Headless
	}
}

// Validate reports configuration errors that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
	case "remote":
		if c.Store.HubURL == "" {
			return fmt.Errorf("engine: config: store.hub_url is required for the remote backend")
		}
	default:
		return fmt.Errorf("engine: config: unknown store backend %q", c.Store.Backend)
	}
	switch c.Browser.Mode {
	case browser.Headless, browser.Headful, browser.Plain:
	default:
		return fmt.Errorf("engine: config: unknown browser mode %q", c.Browser.Mode)
	}
	return nil
}

// LoadConfigFile reads a YAML config file and fills defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("engine: parse %s: %w", path, err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}
