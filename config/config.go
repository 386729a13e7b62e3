package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
)

const (
	// FileName is the canonical name of the configuration file.
	FileName = "pvedns.json"
	// EnvPrefix prefixes every environment override, e.g. PDNS_PVE_URL.
	EnvPrefix = "PDNS"
	// StateFileNone disables zone persistence.
	StateFileNone = "none"

	// systemConfigPath is the location checked last when resolving the config.
	systemConfigPath = "/etc/" + FileName
	stateFileName    = "zone.db"

	defaultDNSPort             = "5354"
	defaultRESTPort            = "8080"
	defaultSyncIntervalSeconds = 30
	defaultRequestTimeout      = 10
	defaultRecordTTL           = 60
	defaultSOATTL              = 300
	defaultCatchAllName        = "_all"
)

// LogRotationMode is the log rotation strategy: "none", "size", or "time".
type LogRotationMode string

const (
	LogRotationNone LogRotationMode = "none"
	LogRotationSize LogRotationMode = "size"
	LogRotationTime LogRotationMode = "time"
)

// LogConfig holds logging directory, severity, and rotation settings.
// Dir "stderr" sends every log to standard error.
type LogConfig struct {
	Dir            string          `json:"log_dir"`
	Severity       string          `json:"log_severity"`
	Rotation       LogRotationMode `json:"log_rotation"`
	RotationSizeMB int             `json:"log_rotation_size_mb"`
	RotationDays   int             `json:"log_rotation_time_days"`
}

// PVEConfig is the Proxmox VE API connection.
type PVEConfig struct {
	URL                string `json:"url"`
	Username           string `json:"username"`
	TokenID            string `json:"tokenid"`
	Node               string `json:"node"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// ROSConfig is the RouterOS REST API connection.
type ROSConfig struct {
	URL                string `json:"url"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
}

// Config captures all persisted settings for pvedns.
type Config struct {
	Domain                string    `json:"domain"`
	DNSPort               string    `json:"port"`
	APIEnabled            bool      `json:"api"`
	RESTPort              string    `json:"apiport"`
	SyncIntervalSeconds   int       `json:"sync_interval_seconds"`
	RequestTimeoutSeconds int       `json:"request_timeout_seconds"`
	RecordTTL             int       `json:"record_ttl"`
	SOATTL                int       `json:"soa_ttl"`
	CatchAllName          string    `json:"catchall_name"`
	StateFile             string    `json:"state_file"`
	PVE                   PVEConfig `json:"pve"`
	ROS                   ROSConfig `json:"ros"`
	Log                   LogConfig `json:"log"`
}

// Loaded contains the configuration together with metadata about the source file.
type Loaded struct {
	Path    string
	Created bool
	Config  Config
}

// Load resolves the pvedns configuration file, creating a default one if
// necessary, applies environment overrides and returns the result.
func Load() (*Loaded, error) {
	candidates, err := candidatePaths()
	if err != nil {
		return nil, err
	}

	for _, path := range candidates {
		cfg, err := readConfig(path)
		if err == nil {
			return finish(path, cfg, false)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	defaultDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: determine working directory: %w", err)
	}
	defaultPath := filepath.Join(defaultDir, FileName)
	cfg := defaultConfig(defaultDir)
	if err := writeConfig(defaultPath, cfg); err != nil {
		return nil, err
	}
	return finish(defaultPath, cfg, true)
}

// LoadFromPath loads configuration from the given path, or creates a default
// config at that path if the file does not exist. Path may be a directory
// (then config is path/pvedns.json) or a file path (then that file is used).
func LoadFromPath(path string) (*Loaded, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	configPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	cfg, err := readConfig(configPath)
	if err == nil {
		return finish(configPath, cfg, false)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read %s: %w", configPath, err)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: ensure config directory %s: %w", dir, err)
	}
	defaultCfg := defaultConfig(dir)
	if err := writeConfig(configPath, defaultCfg); err != nil {
		return nil, err
	}
	return finish(configPath, defaultCfg, true)
}

func finish(path string, cfg *Config, created bool) (*Loaded, error) {
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return &Loaded{Path: path, Created: created, Config: *cfg}, nil
}

// resolveConfigPath returns the config file path. If path is a directory (ends
// with /, exists as dir, or path has no extension), returns path/FileName;
// otherwise returns path as the config file path.
func resolveConfigPath(path string) (string, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return "", fmt.Errorf("config: path is empty")
	}
	isDir := strings.HasSuffix(path, string(filepath.Separator))
	if !isDir {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			isDir = true
		} else if !strings.Contains(filepath.Base(path), ".") {
			isDir = true
		}
	}
	if isDir {
		path = strings.TrimSuffix(path, string(filepath.Separator))
		return filepath.Join(path, FileName), nil
	}
	return path, nil
}

// Read loads and normalises configuration from the specified path without
// searching other locations or applying environment overrides.
func Read(path string) (*Config, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, nil
}

// Save writes the supplied configuration back to the given path.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: ensure config directory %s: %w", dir, err)
	}
	cfg.applyDefaults(dir)
	return writeConfig(path, &cfg)
}

// envOverrides mirrors Config for envconfig. Pointer fields stay nil unless
// the variable is set, so only present variables override the file.
type envOverrides struct {
	Domain                *string
	Port                  *string
	API                   *bool
	APIPort               *string
	SyncIntervalSeconds   *int    `split_words:"true"`
	RequestTimeoutSeconds *int    `split_words:"true"`
	RecordTTL             *int    `split_words:"true"`
	SoaTTL                *int    `split_words:"true"`
	CatchallName          *string `split_words:"true"`
	StateFile             *string `split_words:"true"`
	LogDir                *string `split_words:"true"`
	LogSeverity           *string `split_words:"true"`
	PVE                   struct {
		URL                *string
		Username           *string
		TokenID            *string
		Node               *string
		InsecureSkipVerify *bool `split_words:"true"`
	}
	ROS struct {
		URL                *string
		Username           *string
		Password           *string
		InsecureSkipVerify *bool `split_words:"true"`
	}
}

// ApplyEnv overlays PDNS_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	setString(&c.Domain, env.Domain)
	setString(&c.DNSPort, env.Port)
	setBool(&c.APIEnabled, env.API)
	setString(&c.RESTPort, env.APIPort)
	setInt(&c.SyncIntervalSeconds, env.SyncIntervalSeconds)
	setInt(&c.RequestTimeoutSeconds, env.RequestTimeoutSeconds)
	setInt(&c.RecordTTL, env.RecordTTL)
	setInt(&c.SOATTL, env.SoaTTL)
	setString(&c.CatchAllName, env.CatchallName)
	setString(&c.StateFile, env.StateFile)
	setString(&c.Log.Dir, env.LogDir)
	setString(&c.Log.Severity, env.LogSeverity)

	setString(&c.PVE.URL, env.PVE.URL)
	setString(&c.PVE.Username, env.PVE.Username)
	setString(&c.PVE.TokenID, env.PVE.TokenID)
	setString(&c.PVE.Node, env.PVE.Node)
	setBool(&c.PVE.InsecureSkipVerify, env.PVE.InsecureSkipVerify)

	setString(&c.ROS.URL, env.ROS.URL)
	setString(&c.ROS.Username, env.ROS.Username)
	setString(&c.ROS.Password, env.ROS.Password)
	setBool(&c.ROS.InsecureSkipVerify, env.ROS.InsecureSkipVerify)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Validate reports every problem that would stop the daemon from starting.
func (c *Config) Validate() error {
	var result *multierror.Error
	if strings.Trim(strings.TrimSpace(c.Domain), ".") == "" {
		result = multierror.Append(result, errors.New("domain is required"))
	}
	if err := validPort(c.DNSPort); err != nil {
		result = multierror.Append(result, fmt.Errorf("port: %w", err))
	}
	if c.APIEnabled {
		if err := validPort(c.RESTPort); err != nil {
			result = multierror.Append(result, fmt.Errorf("apiport: %w", err))
		}
	}
	if err := validURL(c.PVE.URL); err != nil {
		result = multierror.Append(result, fmt.Errorf("pve.url: %w", err))
	}
	if c.PVE.Username == "" || c.PVE.TokenID == "" {
		result = multierror.Append(result, errors.New("pve.username and pve.tokenid are required"))
	}
	if strings.TrimSpace(c.PVE.Node) == "" {
		result = multierror.Append(result, errors.New("pve.node is required"))
	}
	if err := validURL(c.ROS.URL); err != nil {
		result = multierror.Append(result, fmt.Errorf("ros.url: %w", err))
	}
	if c.ROS.Username == "" {
		result = multierror.Append(result, errors.New("ros.username is required"))
	}
	if c.SyncIntervalSeconds <= 0 {
		result = multierror.Append(result, errors.New("sync_interval_seconds must be positive"))
	}
	if c.RequestTimeoutSeconds <= 0 {
		result = multierror.Append(result, errors.New("request_timeout_seconds must be positive"))
	}
	if c.RecordTTL < 0 || c.SOATTL < 0 {
		result = multierror.Append(result, errors.New("record_ttl and soa_ttl must not be negative"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func validPort(p string) error {
	n, err := strconv.Atoi(strings.TrimSpace(p))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", p)
	}
	return nil
}

func validURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}

// SyncInterval returns the delay between sync cycles.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request deadline for upstream APIs.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DNSAddr is the UDP and TCP listen address of the DNS server.
func (c *Config) DNSAddr() string { return ":" + c.DNSPort }

// APIAddr is the listen address of the REST API.
func (c *Config) APIAddr() string { return ":" + c.RESTPort }

// PersistenceEnabled reports whether the zone should be written to StateFile.
func (c *Config) PersistenceEnabled() bool {
	return c.StateFile != "" && !strings.EqualFold(c.StateFile, StateFileNone)
}

func candidatePaths() ([]string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("config: determine executable path: %w", err)
	}
	execDir := filepath.Dir(execPath)

	var paths []string
	paths = appendIfMissing(paths, filepath.Join(execDir, FileName))

	if userPath, err := userConfigPath(); err == nil && userPath != "" {
		paths = appendIfMissing(paths, userPath)
	}

	paths = appendIfMissing(paths, systemConfigPath)
	return paths, nil
}

func userConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: determine user config dir: %w", err)
	}
	return filepath.Join(dir, "pvedns", FileName), nil
}

func readConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("config: file %s is empty", path)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func writeConfig(path string, cfg *Config) error {
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}
	// The file may hold API credentials.
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func defaultConfig(baseDir string) *Config {
	return &Config{
		Domain:                "pve.lan",
		DNSPort:               defaultDNSPort,
		APIEnabled:            false,
		RESTPort:              defaultRESTPort,
		SyncIntervalSeconds:   defaultSyncIntervalSeconds,
		RequestTimeoutSeconds: defaultRequestTimeout,
		RecordTTL:             defaultRecordTTL,
		SOATTL:                defaultSOATTL,
		CatchAllName:          defaultCatchAllName,
		StateFile:             defaultStateFile(baseDir),
		PVE:                   PVEConfig{URL: "https://localhost:8006", Node: "pve", InsecureSkipVerify: true},
		ROS:                   ROSConfig{URL: "https://192.168.88.1"},
		Log: LogConfig{
			Dir:            defaultLogDir(baseDir),
			Severity:       "info",
			Rotation:       LogRotationSize,
			RotationSizeMB: 100,
			RotationDays:   7,
		},
	}
}

func (c *Config) applyDefaults(configDir string) {
	c.Domain = strings.TrimSpace(c.Domain)
	if c.DNSPort == "" {
		c.DNSPort = defaultDNSPort
	}
	if c.RESTPort == "" {
		c.RESTPort = defaultRESTPort
	}
	if c.SyncIntervalSeconds == 0 {
		c.SyncIntervalSeconds = defaultSyncIntervalSeconds
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = defaultRecordTTL
	}
	if c.SOATTL == 0 {
		c.SOATTL = defaultSOATTL
	}
	if c.CatchAllName == "" {
		c.CatchAllName = defaultCatchAllName
	}
	switch {
	case c.StateFile == "":
		c.StateFile = defaultStateFile(configDir)
	case strings.EqualFold(c.StateFile, StateFileNone):
	default:
		c.StateFile = ensureAbsolutePath(configDir, c.StateFile, stateFileName)
	}

	if c.Log.Dir == "" {
		c.Log.Dir = defaultLogDir(configDir)
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}
	if c.Log.Rotation == "" {
		c.Log.Rotation = LogRotationSize
	}
	if c.Log.RotationSizeMB <= 0 {
		c.Log.RotationSizeMB = 100
	}
	if c.Log.RotationDays <= 0 {
		c.Log.RotationDays = 7
	}
}

func defaultLogDir(configDir string) string {
	if isSystemConfigDir(configDir) {
		return "/var/log/pvedns"
	}
	return filepath.Join(configDir, "log")
}

// defaultStateFile keeps the zone database under /var/lib when running as a
// system service and next to the config otherwise.
func defaultStateFile(configDir string) string {
	if isSystemConfigDir(configDir) && runningAsRoot() {
		return filepath.Join("/var/lib/pvedns", stateFileName)
	}
	return filepath.Join(configDir, stateFileName)
}

func appendIfMissing(paths []string, candidate string) []string {
	for _, existing := range paths {
		if existing == candidate {
			return paths
		}
	}
	return append(paths, candidate)
}

func ensureAbsolutePath(configDir, value, fallbackName string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return filepath.Join(configDir, fallbackName)
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(configDir, value)
}

// isSystemConfigDir returns true when configDir is the system config location (e.g. /etc or /etc/pvedns),
// so log dir and other defaults can use system paths like /var/log/pvedns.
func isSystemConfigDir(configDir string) bool {
	clean := filepath.Clean(configDir)
	return clean == "/etc" || strings.HasPrefix(clean, "/etc"+string(filepath.Separator))
}
