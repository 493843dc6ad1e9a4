package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a process hosting a group member.
type Config struct {
	Node struct {
		// ID is the kind of member, e.g. "broker".
		ID         string            `yaml:"id"`
		Container  string            `yaml:"container"`
		Address    string            `yaml:"address"`
		Services   []string          `yaml:"services"`
		Attributes map[string]string `yaml:"attributes"`
	} `yaml:"node"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Etcd struct {
		Endpoints      []string      `yaml:"endpoints"`
		Namespace      string        `yaml:"namespace"`
		TTL            int64         `yaml:"ttl"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Username       string        `yaml:"username"`
		Password       string        `yaml:"password"`
	} `yaml:"etcd"`

	Group struct {
		Path         string        `yaml:"path"`
		MemberPrefix string        `yaml:"member_prefix"`
		CloseTimeout time.Duration `yaml:"close_timeout"`
	} `yaml:"group"`

	Ring struct {
		Replicas int `yaml:"replicas"`
	} `yaml:"ring"`

	Log struct {
		// dev | prod
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the optional .env file and YAML file, applies defaults and
// environment overrides, and validates the result. Missing files are not
// an error; malformed ones are.
func Load(envFile, yamlFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var c Config
	if yamlFile != "" {
		b, err := os.ReadFile(yamlFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", yamlFile, err)
			}
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if len(c.Etcd.Endpoints) == 0 {
		c.Etcd.Endpoints = []string{"http://etcd:2379"}
	}
	if c.Etcd.TTL == 0 {
		c.Etcd.TTL = 10
	}
	if c.Etcd.DialTimeout == 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
	if c.Etcd.RequestTimeout == 0 {
		c.Etcd.RequestTimeout = 5 * time.Second
	}
	if c.Group.MemberPrefix == "" {
		c.Group.MemberPrefix = "member-"
	}
	if c.Group.CloseTimeout == 0 {
		c.Group.CloseTimeout = 5 * time.Second
	}
	if c.Ring.Replicas == 0 {
		c.Ring.Replicas = 128
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnvOverrides lets environment variables win over the YAML file.
func (c *Config) applyEnvOverrides() error {
	if v, ok := getEnvStr("SELF_ID"); ok {
		c.Node.ID = v
	}
	if v, ok := getEnvStr("SELF_CONTAINER"); ok {
		c.Node.Container = v
	}
	if v, ok := getEnvStr("SELF_ADDR"); ok {
		c.Node.Address = v
	}
	if v, ok := getEnvCSV("SELF_SERVICES"); ok {
		c.Node.Services = v
	}
	if v, ok := getEnvStr("HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v, ok := getEnvCSV("ETCD_ENDPOINTS"); ok {
		c.Etcd.Endpoints = v
	}
	if v, ok := getEnvStr("ETCD_NAMESPACE"); ok {
		c.Etcd.Namespace = v
	}
	if v, ok := getEnvStr("ETCD_USERNAME"); ok {
		c.Etcd.Username = v
	}
	if v, ok := getEnvStr("ETCD_PASSWORD"); ok {
		c.Etcd.Password = v
	}
	if v, ok := getEnvStr("GROUP_PATH"); ok {
		c.Group.Path = v
	}
	if v, ok := getEnvStr("LOG_ENV"); ok {
		c.Log.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	var err error
	if v, ok := getEnvStr("ETCD_TTL"); ok {
		if c.Etcd.TTL, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("ETCD_TTL: %w", err)
		}
	}
	if v, ok := getEnvStr("ETCD_DIAL_TIMEOUT"); ok {
		if c.Etcd.DialTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("ETCD_DIAL_TIMEOUT: %w", err)
		}
	}
	if v, ok := getEnvStr("GROUP_CLOSE_TIMEOUT"); ok {
		if c.Group.CloseTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("GROUP_CLOSE_TIMEOUT: %w", err)
		}
	}
	if v, ok := getEnvStr("RING_REPLICAS"); ok {
		if c.Ring.Replicas, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("RING_REPLICAS: %w", err)
		}
	}
	return nil
}

// Validate fails on the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Node.ID == "":
		return errors.New("config: node id is required (SELF_ID)")
	case c.Group.Path == "" || !strings.HasPrefix(c.Group.Path, "/"):
		return fmt.Errorf("config: group path must be absolute, got %q (GROUP_PATH)", c.Group.Path)
	case strings.Contains(c.Group.MemberPrefix, "/"):
		return fmt.Errorf("config: member prefix %q must not contain '/'", c.Group.MemberPrefix)
	case len(c.Etcd.Endpoints) == 0:
		return errors.New("config: at least one etcd endpoint is required")
	case c.Etcd.TTL < 2:
		return fmt.Errorf("config: etcd ttl must be at least 2 seconds, got %d", c.Etcd.TTL)
	case c.Group.CloseTimeout <= 0:
		return errors.New("config: group close timeout must be positive")
	case c.Ring.Replicas <= 0:
		return errors.New("config: ring replicas must be positive")
	}
	switch c.Log.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("config: log env must be dev or prod, got %q", c.Log.Env)
	}
	return nil
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func getEnvCSV(key string) ([]string, bool) {
	v, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out, len(out) > 0
}
