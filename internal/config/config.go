package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config models issuelab.yml.
type Config struct {
	Server struct {
		Addr                   string            `yaml:"addr"`
		BasePath               string            `yaml:"base_path"`
		JWTSecret              string            `yaml:"jwt_secret"`
		APIKeys                map[string]string `yaml:"api_keys"` // key -> account id
		AllowLegacyActorHeader bool              `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Limits struct {
		WindowSeconds int `yaml:"window_seconds"`
		Budget        int `yaml:"budget"`
	} `yaml:"limits"`
	Delivery struct {
		Workers       int `yaml:"workers"`
		QueueSize     int `yaml:"queue_size"`
		JitterMinMS   int `yaml:"jitter_min_ms"`
		JitterMaxMS   int `yaml:"jitter_max_ms"`
		DedupCapacity int `yaml:"dedup_capacity"`
	} `yaml:"delivery"`
	Seed Seed `yaml:"seed"`
}

// Seed is the fixture set the entity store boots from.
type Seed struct {
	Users         []SeedUser       `yaml:"users"`
	Projects      []SeedProject    `yaml:"projects"`
	Categories    []SeedCategory   `yaml:"categories"`
	Statuses      []SeedStatus     `yaml:"statuses"`
	Transitions   []SeedTransition `yaml:"transitions"`
	IssueTypes    []SeedIssueType  `yaml:"issue_types"`
	LinkTypes     []SeedLinkType   `yaml:"link_types"`
	InitialStatus string           `yaml:"initial_status"`
}

type SeedUser struct {
	AccountID   string `yaml:"account_id"`
	DisplayName string `yaml:"display_name"`
	Email       string `yaml:"email"`
}

type SeedProject struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Lead string `yaml:"lead"`
}

type SeedCategory struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type SeedStatus struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type SeedTransition struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type SeedIssueType struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type SeedLinkType struct {
	Name    string `yaml:"name"`
	Inward  string `yaml:"inward"`
	Outward string `yaml:"outward"`
}

var projectKeyPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.Budget < 0 {
		return fmt.Errorf("config.limits.budget must not be negative")
	}
	if c.Delivery.JitterMinMS < 0 || c.Delivery.JitterMaxMS < c.Delivery.JitterMinMS {
		return fmt.Errorf("config.delivery jitter range invalid: min=%d max=%d", c.Delivery.JitterMinMS, c.Delivery.JitterMaxMS)
	}
	statuses := map[string]bool{}
	for _, s := range c.Seed.Statuses {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("seed status requires id and name")
		}
		if statuses[s.ID] {
			return fmt.Errorf("duplicate seed status %s", s.ID)
		}
		statuses[s.ID] = true
	}
	if c.Seed.InitialStatus != "" && !statuses[c.Seed.InitialStatus] {
		return fmt.Errorf("seed.initial_status %s is not a seeded status", c.Seed.InitialStatus)
	}
	for _, t := range c.Seed.Transitions {
		if !statuses[t.From] || !statuses[t.To] {
			return fmt.Errorf("transition %s references unknown status (%s -> %s)", t.ID, t.From, t.To)
		}
	}
	users := map[string]bool{}
	for _, u := range c.Seed.Users {
		if u.AccountID == "" {
			return fmt.Errorf("seed user requires account_id")
		}
		users[u.AccountID] = true
	}
	for _, p := range c.Seed.Projects {
		if !projectKeyPattern.MatchString(p.Key) {
			return fmt.Errorf("project key %q must be 2-10 uppercase letters", p.Key)
		}
		if p.Type != "software" && p.Type != "service_desk" {
			return fmt.Errorf("project %s type must be software or service_desk", p.Key)
		}
		if p.Lead != "" && !users[p.Lead] {
			return fmt.Errorf("project %s lead %s is not a seeded user", p.Key, p.Lead)
		}
	}
	for _, lt := range c.Seed.LinkTypes {
		if lt.Name == "" || lt.Inward == "" || lt.Outward == "" {
			return fmt.Errorf("link type requires name, inward and outward phrasing")
		}
	}
	return nil
}

// Default returns the built-in config with the demo fixture set.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /rest
  jwt_secret: ""
  allow_legacy_actor_header: true
  api_keys: {}

limits:
  window_seconds: 60
  budget: 100

delivery:
  workers: 4
  queue_size: 256
  jitter_min_ms: 50
  jitter_max_ms: 250
  dedup_capacity: 2000

seed:
  users:
    - account_id: alice
      display_name: Alice Doe
      email: alice@example.com
    - account_id: bob
      display_name: Bob Roe
      email: bob@example.com
    - account_id: carol
      display_name: Carol Low
      email: carol@example.com

  projects:
    - key: DEMO
      name: Demo Project
      type: software
      lead: alice
    - key: HELP
      name: Help Desk
      type: service_desk
      lead: bob

  categories:
    - key: new
      name: To Do
    - key: indeterminate
      name: In Progress
    - key: done
      name: Done

  statuses:
    - id: "1"
      name: To Do
      category: new
    - id: "2"
      name: In Progress
      category: indeterminate
    - id: "3"
      name: Done
      category: done

  initial_status: "1"

  transitions:
    - id: "11"
      name: Start Progress
      from: "1"
      to: "2"
    - id: "21"
      name: Stop Progress
      from: "2"
      to: "1"
    - id: "31"
      name: Resolve
      from: "2"
      to: "3"
    - id: "41"
      name: Reopen
      from: "3"
      to: "1"

  issue_types:
    - id: "10001"
      name: Task
    - id: "10002"
      name: Bug
    - id: "10003"
      name: Story

  link_types:
    - name: Blocks
      inward: is blocked by
      outward: blocks
    - name: Relates
      inward: relates to
      outward: relates to
`
