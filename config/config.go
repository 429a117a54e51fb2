package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FLEET_RAFT_ADDR
const EnvPrefix = "FLEET"

// Config represents the fleet server configuration
type Config struct {
	// Node configuration
	NodeID    string
	RaftAddr  string
	RaftDir   string
	HTTPAddr  string
	Bootstrap bool
	JoinAddr  string
	Peers     []string

	// Library files
	UploadFolder      string
	AllowedExtensions []string
	MaxUploadSize     int64

	// Printers
	MoonrakerPort  int
	WebcamPort     int
	StatusInterval time.Duration
	RequestTimeout time.Duration
	Workers        int
	Subscribe      bool

	LogLevel    string
	CORSOrigins []string

	// Service is an OS service control verb, empty to run in the foreground
	Service string
}

// DashboardConfig represents the operator dashboard configuration
type DashboardConfig struct {
	BackendURL     string
	ListenAddr     string
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
	SettingsFile    string
	LiveFeed        bool
	LogLevel        string
}

// ServiceCommands are the accepted values of the service flag
var ServiceCommands = []string{"install", "uninstall", "start", "stop", "restart"}

// Loader merges flags, FLEET_ environment variables and an optional
// fleet.yaml, in that order of precedence
type Loader struct {
	v     *viper.Viper
	flags *pflag.FlagSet
}

func newLoader(name string) *Loader {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("config", "", "Path to a config file (default ./fleet.yaml if present)")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	return &Loader{v: viper.New(), flags: flags}
}

// ParseFlags parses the fleet server flags from args and returns a Config
func ParseFlags(args []string) (*Config, *Loader, error) {
	l := newLoader("fleet-server")
	f := l.flags

	// Define flags
	f.String("id", "", "Node ID (required)")
	f.String("raft-addr", "127.0.0.1:7000", "Raft transport address")
	f.String("raft-dir", "data/raft", "Raft storage directory")
	f.String("http-addr", ":5000", "HTTP API address")
	f.Bool("bootstrap", false, "Bootstrap the cluster")
	f.String("join", "", "HTTP address of an existing node to join")
	f.StringSlice("peers", nil, "Comma-separated list of peer raft addresses")
	f.String("upload-folder", "uploads", "Directory holding library files")
	f.StringSlice("allowed-extensions", []string{"gcode", "g", "gco", "gcode.gz", "ufp", "3mf"}, "Accepted print file extensions")
	f.Int64("max-upload-size", 500*1024*1024, "Largest accepted upload in bytes")
	f.Int("moonraker-port", 7125, "Moonraker port used when a printer is added without one")
	f.Int("webcam-port", 8080, "Webcam port used when a printer is added without one")
	f.String("status-interval", "5s", "How often printers are queried (seconds or a duration)")
	f.String("request-timeout", "10s", "Timeout of printer control requests")
	f.Int("workers", 8, "Printers queried at once")
	f.Bool("subscribe", false, "Keep a Moonraker websocket open per printer")
	f.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins")
	f.String("service", "", "Service control: "+strings.Join(ServiceCommands, ", "))

	if err := l.load(args); err != nil {
		return nil, nil, err
	}
	cfg, err := l.Server()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

// ParseDashboardFlags parses the dashboard flags from args
func ParseDashboardFlags(args []string) (*DashboardConfig, *Loader, error) {
	l := newLoader("fleet-dashboard")
	f := l.flags

	f.String("backend-url", "http://127.0.0.1:5000", "Base URL of the fleet server")
	f.String("listen-addr", ":8000", "Dashboard HTTP address")
	f.String("poll-interval", "5s", "How often printer statuses are refreshed")
	f.String("request-timeout", "10s", "Timeout of backend requests")
	f.String("transfer-timeout", "10m", "Timeout of file uploads and downloads")
	f.String("settings-file", "dashboard-settings.yaml", "Where dashboard settings are saved, empty keeps them in memory")
	f.Bool("live-feed", true, "Follow the server's status feed between polls")

	if err := l.load(args); err != nil {
		return nil, nil, err
	}
	cfg, err := l.Dashboard()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func (l *Loader) load(args []string) error {
	if err := l.flags.Parse(args); err != nil {
		return err
	}

	v := l.v
	if err := v.BindPFlags(l.flags); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		return nil
	}

	v.SetConfigName("fleet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fleet3d")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// File returns the config file in use, or "" when there is none
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn every time the config file changes. Without a config
// file there is nothing to watch and fn is never called.
func (l *Loader) Watch(fn func()) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		fn()
	})
	l.v.WatchConfig()
}

// Server reads the current fleet server configuration
func (l *Loader) Server() (*Config, error) {
	v := l.v
	cfg := &Config{
		NodeID:            v.GetString("id"),
		RaftAddr:          v.GetString("raft-addr"),
		RaftDir:           v.GetString("raft-dir"),
		HTTPAddr:          v.GetString("http-addr"),
		Bootstrap:         v.GetBool("bootstrap"),
		JoinAddr:          v.GetString("join"),
		Peers:             list(v, "peers"),
		UploadFolder:      v.GetString("upload-folder"),
		AllowedExtensions: list(v, "allowed-extensions"),
		MaxUploadSize:     v.GetInt64("max-upload-size"),
		MoonrakerPort:     v.GetInt("moonraker-port"),
		WebcamPort:        v.GetInt("webcam-port"),
		Workers:           v.GetInt("workers"),
		Subscribe:         v.GetBool("subscribe"),
		LogLevel:          v.GetString("log-level"),
		CORSOrigins:       list(v, "cors-origins"),
		Service:           v.GetString("service"),
	}

	var err error
	if cfg.StatusInterval, err = duration(v, "status-interval"); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = duration(v, "request-timeout"); err != nil {
		return nil, err
	}

	// Normalize extensions the way uploads are matched
	for i, ext := range cfg.AllowedExtensions {
		cfg.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dashboard reads the current dashboard configuration
func (l *Loader) Dashboard() (*DashboardConfig, error) {
	v := l.v
	cfg := &DashboardConfig{
		BackendURL:   strings.TrimRight(v.GetString("backend-url"), "/"),
		ListenAddr:   v.GetString("listen-addr"),
		SettingsFile: v.GetString("settings-file"),
		LiveFeed:     v.GetBool("live-feed"),
		LogLevel:     v.GetString("log-level"),
	}

	var err error
	if cfg.PollInterval, err = duration(v, "poll-interval"); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = duration(v, "request-timeout"); err != nil {
		return nil, err
	}
	if cfg.TransferTimeout, err = duration(v, "transfer-timeout"); err != nil {
		return nil, err
	}

	if cfg.BackendURL == "" {
		return nil, errors.New("backend URL is required")
	}
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	return cfg, nil
}

// Validate checks the fields every node needs
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID is required")
	}
	if c.RaftAddr == "" {
		return errors.New("raft address is required")
	}
	if c.RaftDir == "" {
		return errors.New("raft directory is required")
	}
	if c.HTTPAddr == "" {
		return errors.New("HTTP address is required")
	}
	if c.StatusInterval <= 0 {
		return errors.New("status interval must be positive")
	}
	if c.MaxUploadSize < 0 {
		return errors.New("max upload size cannot be negative")
	}
	if c.Service != "" && !contains(ServiceCommands, c.Service) {
		return fmt.Errorf("unknown service command %q", c.Service)
	}
	return nil
}

// duration accepts a bare number of seconds or a Go duration string
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

// list flattens comma separated entries, as environment variables carry them
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
