// Package config loads the broker's YAML configuration: a single struct
// decoded with gopkg.in/yaml.v3, defaults filled in for anything the
// file omits.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/myaut/tsload/internal/flow"
	"github.com/myaut/tsload/internal/userstore"
)

// Duration decodes YAML scalars like "30s" or "1m" via
// time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// User is one seed credential the broker loads into its userstore.Store
// at startup.
type User struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// ListenerFlow is one extra entry-point rule for unauthenticated peers,
// appended to the built-in hello/authMasterKey/authUser set. An omitted
// field is a wildcard.
type ListenerFlow struct {
	SrcAgentID *int64  `yaml:"srcAgentId"`
	DstAgentID *int64  `yaml:"dstAgentId"`
	Command    *string `yaml:"command"`
}

// Rule converts the YAML shape into a flow.AccessRule.
func (lf ListenerFlow) Rule() flow.AccessRule {
	var r flow.AccessRule
	if lf.SrcAgentID == nil {
		r.SrcAny = true
	} else {
		r.SrcAgentID = *lf.SrcAgentID
	}
	if lf.DstAgentID == nil {
		r.DstAny = true
	} else {
		r.DstAgentID = *lf.DstAgentID
	}
	if lf.Command == nil {
		r.CmdAny = true
	} else {
		r.Command = *lf.Command
	}
	return r
}

// Config is the broker's full startup configuration.
type Config struct {
	Listen string `yaml:"listen"`

	MasterKeyPath string `yaml:"masterKeyPath"`

	MaxFrameBytes int `yaml:"maxFrameBytes"`

	CleanupInterval Duration `yaml:"cleanupInterval"`

	// DroppedReplyLogLevel is the zap level for replies that arrive
	// after their flow is gone ("debug" or "warn"; deployment policy).
	DroppedReplyLogLevel string `yaml:"droppedReplyLogLevel"`

	ListenerFlows []ListenerFlow `yaml:"listenerFlows"`

	Users []User `yaml:"users"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Listen:               ":9090",
		MasterKeyPath:        "master.key",
		MaxFrameBytes:        16 << 20,
		CleanupInterval:      Duration(time.Minute),
		DroppedReplyLogLevel: "debug",
	}
}

// Load reads and parses a YAML config file at path, applying Default()
// for any zero-valued field the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Listen == "" {
		cfg.Listen = Default().Listen
	}
	if cfg.MasterKeyPath == "" {
		cfg.MasterKeyPath = Default().MasterKeyPath
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = Default().MaxFrameBytes
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = Default().CleanupInterval
	}
	if cfg.DroppedReplyLogLevel == "" {
		cfg.DroppedReplyLogLevel = Default().DroppedReplyLogLevel
	}

	return cfg, nil
}

// DroppedReplyLevel parses DroppedReplyLogLevel, falling back to debug
// on an unrecognized value.
func (c Config) DroppedReplyLevel() zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.DroppedReplyLogLevel)); err != nil {
		return zapcore.DebugLevel
	}
	return level
}

// ExtraListenerFlows converts the configured entry-point rules.
func (c Config) ExtraListenerFlows() flow.RuleSet {
	if len(c.ListenerFlows) == 0 {
		return nil
	}
	out := make(flow.RuleSet, 0, len(c.ListenerFlows))
	for _, lf := range c.ListenerFlows {
		out = append(out, lf.Rule())
	}
	return out
}

// roleOf maps a config-file role string onto userstore.Role, defaulting
// to the least-privileged tier on an unrecognized value.
func roleOf(s string) userstore.Role {
	switch s {
	case "admin":
		return userstore.RoleAdmin
	case "operator":
		return userstore.RoleOperator
	default:
		return userstore.RoleUser
	}
}

// BuildUserStore constructs a userstore.Store seeded from cfg.Users.
func (c Config) BuildUserStore() (*userstore.Store, error) {
	store := userstore.New()
	for _, u := range c.Users {
		name := u.Name
		if name == "" {
			name = u.Username
		}
		if err := store.AddUser(u.Username, name, u.Password, roleOf(u.Role)); err != nil {
			return nil, fmt.Errorf("add user %s: %w", u.Username, err)
		}
	}
	return store, nil
}
