package config

import (
	"emperror.dev/errors"
	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ServerConfigFile is the name of the rendered server configuration inside
	// the data directory.
	ServerConfigFile = "serverconfig.json"

	// TemplateFile is the name of the default settings template. The shipped
	// copy lives in the home directory, a user supplied one in the data
	// directory takes precedence.
	TemplateFile = "server-config.yaml"

	// OverridePrefix marks environment variables that override a value in the
	// rendered server configuration.
	OverridePrefix = "VS_CFG_"
)

// Configuration is populated exactly once at startup from a snapshot of the
// process environment and then handed to every component that needs it.
type Configuration struct {
	// The home directory of the service user. The shipped settings template is
	// read from here.
	HomePath string `default:"/vintagestory" env:"HOMEPATH"`

	// The directory the server binary was installed into. The server process is
	// started with this as its working directory.
	ServerPath string `default:"/vintagestory/server" env:"SERVERPATH"`

	// The persisted data volume. Saves, logs, backups and the rendered
	// configuration all live below this path.
	DataPath string `default:"/vintagestory/data" env:"DATAPATH"`

	// The binary that is executed to run the game server.
	BinaryPath string `default:"/vintagestory/server/VintagestoryServer" env:"SERVER_BINARY"`

	// The user that should own all of the server files, and be used when running
	// the server process.
	Username string `default:"vintagestory" env:"USERNAME"`

	User struct {
		Uid int `default:"1000" env:"UID"`
		Gid int `default:"1000" env:"GID"`
	}

	Logging LoggingConfiguration

	// Renders the server configuration even if one already exists in the data
	// directory. The previous file is kept as a backup.
	ForceRegenerate bool `env:"FORCE_REGENERATE_CONFIG"`

	// The amount of time the server process is given to exit after receiving a
	// SIGTERM before it is killed.
	StopTimeout time.Duration `default:"30s" env:"STOP_TIMEOUT"`

	// The socket used to report readiness to a service manager, if any.
	NotifySocket string `env:"NOTIFY_SOCKET"`

	environ map[string]string
}

// LoggingConfiguration controls which server log files are forwarded to the
// container output and how the entrypoint itself logs.
type LoggingConfiguration struct {
	// Forwards the build and debug server logs.
	Debug bool `env:"ENABLE_DEBUG_LOGGING"`

	// Forwards the chat server log.
	Chat bool `env:"ENABLE_CHAT_LOGGING"`

	// How often a followed log file is checked for new output.
	PollInterval time.Duration `default:"250ms" env:"TAIL_POLL_INTERVAL"`

	// How long a follower keeps trying to reopen a log file that was removed
	// before giving up.
	ReopenTimeout time.Duration `default:"1m" env:"TAIL_REOPEN_TIMEOUT"`

	// If set, entrypoint log output is also written to this file.
	File string `env:"ENTRYPOINT_LOG_FILE"`
}

// FromEnviron builds a configuration from an environment snapshot in the
// "KEY=value" format returned by os.Environ.
func FromEnviron(environ []string) (*Configuration, error) {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return FromMap(m)
}

// FromMap builds a configuration from an already split environment snapshot.
// Defaults are applied first and any matching variable replaces them.
func FromMap(environ map[string]string) (*Configuration, error) {
	c := &Configuration{}
	if err := defaults.Set(c); err != nil {
		return nil, errors.WithMessage(err, "config: failed to apply defaults")
	}
	if err := env.ParseWithOptions(c, env.Options{Environment: environ}); err != nil {
		return nil, errors.WithMessage(err, "config: failed to parse environment")
	}
	if c.StopTimeout <= 0 {
		return nil, errors.New("config: STOP_TIMEOUT must be greater than zero")
	}
	if c.Logging.PollInterval <= 0 {
		return nil, errors.New("config: TAIL_POLL_INTERVAL must be greater than zero")
	}

	c.environ = make(map[string]string, len(environ))
	for k, v := range environ {
		c.environ[k] = v
	}
	return c, nil
}

// Environ returns a copy of the environment snapshot this configuration was
// built from.
func (c *Configuration) Environ() map[string]string {
	out := make(map[string]string, len(c.environ))
	for k, v := range c.environ {
		out[k] = v
	}
	return out
}

// ConfigPath returns the location of the rendered server configuration.
func (c *Configuration) ConfigPath() string {
	return filepath.Join(c.DataPath, ServerConfigFile)
}

// LogsPath returns the directory the server writes its log files into.
func (c *Configuration) LogsPath() string {
	return filepath.Join(c.DataPath, "Logs")
}

// Directories returns every directory that must exist inside of the data
// volume before the server is started.
func (c *Configuration) Directories() []string {
	return []string{
		c.DataPath,
		c.LogsPath(),
		filepath.Join(c.DataPath, "Saves"),
		filepath.Join(c.DataPath, "Backups"),
		filepath.Join(c.DataPath, "Playerdata"),
	}
}

// TemplatePath returns the settings template that should be used. A template
// placed in the data volume wins over the one shipped in the home directory.
func (c *Configuration) TemplatePath() string {
	p := filepath.Join(c.DataPath, TemplateFile)
	if st, err := os.Stat(p); err == nil && !st.IsDir() {
		return p
	}
	return filepath.Join(c.HomePath, TemplateFile)
}
