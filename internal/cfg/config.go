// Package cfg loads the ghmerge configuration file.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	DefaultRepository     = "openwrt/openwrt"
	DefaultUpstreamRemote = "origin"
	DefaultBranch         = "master"
	DefaultClosingComment = "Thanks! Rebased on top of {{.Branch}} and merged."
	DefaultLogFormat      = "console"
	DefaultLogLevel       = "info"
	DefaultMetricsJob     = "ghmerge"
)

// TokenEnvVar is the environment variable the GitHub API token is read from
// when the configuration file does not define one.
const TokenEnvVar = "GITHUB_TOKEN"

type Config struct {
	Repository     string  `toml:"repository"`
	GithubAPIToken string  `toml:"github_api_token"`
	GithubAPIURL   string  `toml:"github_api_url"`
	UpstreamRemote string  `toml:"upstream_remote"`
	DefaultBranch  string  `toml:"default_branch"`
	ClosingComment string  `toml:"closing_comment"`
	LogFormat      string  `toml:"log_format"`
	LogTimeKey     string  `toml:"log_time_key"`
	LogLevel       string  `toml:"log_level"`
	Merge          Merge   `toml:"merge"`
	Notify         Notify  `toml:"notify"`
	Metrics        Metrics `toml:"metrics"`
}

// Merge configures additional conditions a pull request must fulfill
// before it is merged.
type Merge struct {
	RequireCISuccess bool `toml:"require_ci_success"`
	RequireApproval  bool `toml:"require_approval"`
	// FilterQuery is a jq expression that is evaluated on the JSON
	// representation of the pull request, it must return true.
	FilterQuery string `toml:"filter_query"`
}

type Notify struct {
	// RetryTimeout is a duration string (e.g. "30s"), an empty value is
	// the same as "0s".
	RetryTimeout string `toml:"retry_timeout"`
}

// RetryTimeoutDuration returns the parsed RetryTimeout.
func (n *Notify) RetryTimeoutDuration() (time.Duration, error) {
	if n.RetryTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(n.RetryTimeout)
	if err != nil {
		return 0, fmt.Errorf("notify.retry_timeout: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("notify.retry_timeout is negative: %s", d)
	}

	return d, nil
}

type Metrics struct {
	PushgatewayURL string `toml:"pushgateway_url"`
	Job            string `toml:"job"`
}

// Default returns a configuration with all fields set to their default
// values.
func Default() *Config {
	return &Config{
		Repository:     DefaultRepository,
		UpstreamRemote: DefaultUpstreamRemote,
		DefaultBranch:  DefaultBranch,
		ClosingComment: DefaultClosingComment,
		LogFormat:      DefaultLogFormat,
		LogLevel:       DefaultLogLevel,
		Metrics: Metrics{
			Job: DefaultMetricsJob,
		},
	}
}

// Load reads a TOML configuration from reader.
// Fields that are not set in the file have their default values.
func Load(reader io.Reader) (*Config, error) {
	result := Default()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, result); err != nil {
		return nil, err
	}

	return result, nil
}

// LoadFile loads the configuration from path.
// When mustExist is false and the file does not exist, the default
// configuration is returned.
func LoadFile(path string, mustExist bool) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return Default(), nil
		}

		return nil, err
	}
	defer file.Close()

	return Load(file)
}

// ApplyEnv sets fields that are unset in the configuration from environment
// variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c.GithubAPIToken == "" {
		c.GithubAPIToken = getenv(TokenEnvVar)
	}
}

// Validate returns an error if a field has an invalid value.
func (c *Config) Validate() error {
	if _, _, err := c.OwnerAndRepository(); err != nil {
		return err
	}

	if c.UpstreamRemote == "" {
		return errors.New("upstream_remote is empty")
	}

	if c.DefaultBranch == "" {
		return errors.New("default_branch is empty")
	}

	switch c.LogFormat {
	case "console", "json", "logfmt":
	default:
		return fmt.Errorf("unsupported log_format: %q", c.LogFormat)
	}

	if _, err := c.Notify.RetryTimeoutDuration(); err != nil {
		return err
	}

	return nil
}

// OwnerAndRepository splits the repository slug into owner and name.
func (c *Config) OwnerAndRepository() (owner, repo string, err error) {
	owner, repo, found := strings.Cut(c.Repository, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository %q is invalid, must be in the format <owner>/<name>", c.Repository)
	}

	return owner, repo, nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
