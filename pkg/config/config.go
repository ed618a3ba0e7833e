// Package config layers settings for both binaries: built-in defaults, then
// an optional YAML file, then a .env file and WGMESH_* variables, then any
// command-line flag the operator set explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "WGMESH_"

type Store struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	DSN         string `yaml:"dsn"`
	ConsulAddr  string `yaml:"consul_addr"`
	ConsulToken string `yaml:"consul_token"`
}

type TLS struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
}

// Coordinator holds the coordinator settings.
type Coordinator struct {
	Listen       string        `yaml:"listen"`
	Subnet       string        `yaml:"subnet"`
	MTU          int           `yaml:"mtu"`
	Keepalive    int           `yaml:"keepalive"`
	Interface    string        `yaml:"interface"`
	MasterPolicy string        `yaml:"master_policy"`
	Key          string        `yaml:"key"`
	KeyFile      string        `yaml:"key_file"`
	KeyHash      string        `yaml:"key_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Store        Store         `yaml:"store"`
	TLS          TLS           `yaml:"tls"`
	LogLevel     string        `yaml:"log_level"`
	LogFile      string        `yaml:"log_file"`
}

// Agent holds the agent settings.
type Agent struct {
	Server         string        `yaml:"server"`
	Port           int           `yaml:"port"`
	Scheme         string        `yaml:"scheme"`
	Insecure       bool          `yaml:"insecure"`
	CAFile         string        `yaml:"ca_file"`
	CertFile       string        `yaml:"cert_file"`
	KeyFileTLS     string        `yaml:"tls_key_file"`
	Role           string        `yaml:"role"`
	UID            string        `yaml:"uid"`
	Interface      string        `yaml:"interface"`
	Interval       time.Duration `yaml:"interval"`
	Endpoint       string        `yaml:"endpoint"`
	EndpointPort   int           `yaml:"endpoint_port"`
	STUNServer     string        `yaml:"stun_server"`
	ConfigDir      string        `yaml:"config_dir"`
	ApplyMode      string        `yaml:"apply_mode"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	HistoryDB      string        `yaml:"history_db"`
	Watch          bool          `yaml:"watch"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ApplyTimeout   time.Duration `yaml:"apply_timeout"`
	Key            string        `yaml:"key"`
	KeyFile        string        `yaml:"key_file"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`
}

func DefaultCoordinator() Coordinator {
	return Coordinator{
		Listen:       "127.0.0.1:8881",
		Subnet:       "10.11.12.0/24",
		MTU:          1420,
		Keepalive:    25,
		Interface:    "wg0",
		MasterPolicy: "overwrite",
		KeyFile:      "./key",
		TokenTTL:     time.Hour,
		Store:        Store{Backend: "memory", Path: "./wg-mesh.db"},
		LogLevel:     "info",
	}
}

func DefaultAgent() Agent {
	return Agent{
		Port:           8088,
		Scheme:         "https",
		Interface:      "n2sys_tunnel_wg",
		Interval:       60 * time.Second,
		EndpointPort:   51820,
		ConfigDir:      "/etc/wireguard",
		ApplyMode:      "systemd",
		ProbeInterval:  10 * time.Second,
		RequestTimeout: 5 * time.Second,
		ApplyTimeout:   30 * time.Second,
		KeyFile:        "./key",
		LogLevel:       "info",
	}
}

// LoadFile decodes the YAML file at path over out. An empty path is a no-op.
func LoadFile(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads path into the process environment when it exists.
// Variables already set win over the file.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Overlay runs load and then re-applies every flag set explicitly on fs, so
// flags keep the final say over whatever load wrote into the bound fields.
func Overlay(fs *pflag.FlagSet, load func() error) error {
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := load(); err != nil {
		return err
	}
	for name, v := range changed {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}
