package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "echotab"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage echotab configuration.

Running bare 'echotab config' is the same as 'echotab config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# echotab configuration
# See: echotab config show (for effective values and sources)

# State/data directory: pid and log files (default: ~/.config/echotab)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/echotab/echotab.db)
# db_path: {{ .DBPath }}

log:
  # debug, info, warn, or error
  level: "{{ .LogLevel }}"

server:
  port: {{ .Port }}
  # Public address used to build collection share links
  base_url: "{{ .BaseURL }}"
  # Identify clients by X-Real-IP / X-Forwarded-For (only behind a reverse proxy)
  trust_proxy: {{ .TrustProxy }}

auth:
  # Request header carrying the caller's user id (a UUID)
  header: "{{ .AuthHeader }}"

lists:
  # Lists a single user may own
  max_per_user: {{ .MaxLists }}
  # User id the list commands act as when --user is omitted
  default_user: "{{ .DefaultUser }}"

# Per-client budget for the public view/import counters
ratelimit:
  per_minute: {{ .RatePerMinute }}
  burst: {{ .RateBurst }}

snapshot:
  width: {{ .SnapshotWidth }}
  height: {{ .SnapshotHeight }}
  quality: {{ .SnapshotQuality }}
  # Timeout for each capture strategy
  capture_timeout: {{ .CaptureTimeout }}
  # Staged snapshots older than this are purged
  temp_ttl: {{ .TempTTL }}

# Headless Chrome fallback for snapshot capture
browser:
  enabled: {{ .BrowserEnabled }}
  # DevTools URL of a running Chrome; empty launches one on demand
  remote_url: "{{ .BrowserRemoteURL }}"

# Tag suggestions are enabled when an API key is set
anthropic:
  # api_key: sk-ant-...
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir         string
	DBPath           string
	LogLevel         string
	Port             int
	BaseURL          string
	TrustProxy       bool
	AuthHeader       string
	MaxLists         int
	DefaultUser      string
	RatePerMinute    int
	RateBurst        int
	SnapshotWidth    int
	SnapshotHeight   int
	SnapshotQuality  int
	CaptureTimeout   string
	TempTTL          string
	BrowserEnabled   bool
	BrowserRemoteURL string
	AnthropicModel   string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:         viper.GetString("state_dir"),
		DBPath:           viper.GetString("db_path"),
		LogLevel:         viper.GetString("log.level"),
		Port:             viper.GetInt("server.port"),
		BaseURL:          viper.GetString("server.base_url"),
		TrustProxy:       viper.GetBool("server.trust_proxy"),
		AuthHeader:       viper.GetString("auth.header"),
		MaxLists:         viper.GetInt("lists.max_per_user"),
		DefaultUser:      viper.GetString("lists.default_user"),
		RatePerMinute:    viper.GetInt("ratelimit.per_minute"),
		RateBurst:        viper.GetInt("ratelimit.burst"),
		SnapshotWidth:    viper.GetInt("snapshot.width"),
		SnapshotHeight:   viper.GetInt("snapshot.height"),
		SnapshotQuality:  viper.GetInt("snapshot.quality"),
		CaptureTimeout:   viper.GetDuration("snapshot.capture_timeout").String(),
		TempTTL:          viper.GetDuration("snapshot.temp_ttl").String(),
		BrowserEnabled:   viper.GetBool("browser.enabled"),
		BrowserRemoteURL: viper.GetString("browser.remote_url"),
		AnthropicModel:   viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeys lists the keys shown by `config show`, in display order.
var configKeys = []string{
	"state_dir",
	"db_path",
	"log.level",
	"server.port",
	"server.base_url",
	"server.trust_proxy",
	"auth.header",
	"lists.max_per_user",
	"lists.default_user",
	"ratelimit.per_minute",
	"ratelimit.burst",
	"snapshot.width",
	"snapshot.height",
	"snapshot.quality",
	"snapshot.capture_timeout",
	"snapshot.temp_ttl",
	"browser.enabled",
	"browser.remote_url",
	"anthropic.api_key",
	"anthropic.model",
}

// envVar returns the environment variable that overrides key.
func envVar(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k)
		if k == "anthropic.api_key" && viper.GetString(k) != "" {
			val = "********"
		}
		source := detectSource(k, envVar(k), fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'echotab config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
