package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Addr          string `yaml:"addr"`
	ReadTimeout   int    `yaml:"read_timeout"`   // seconds
	WriteTimeout  int    `yaml:"write_timeout"`  // seconds
	ProbeTimeout  int    `yaml:"probe_timeout"`  // seconds
	PollInterval  int    `yaml:"poll_interval"`  // seconds
	ControlSocket string `yaml:"control_socket"`
}

var configPaths = []string{
	"/etc/chatd/chatd.yaml",
	"./config/chatd.yaml",
	"./chatd.yaml",
}

// Load builds the configuration from defaults, then an optional YAML file
// from the first readable candidate path, then environment overrides.
func Load() *Config {
	cfg := &Config{
		Addr:          ":65432",
		ReadTimeout:   120,
		WriteTimeout:  30,
		ProbeTimeout:  10,
		PollInterval:  1,
		ControlSocket: "/tmp/chatd.sock",
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err == nil {
			break
		}
	}

	if addr := os.Getenv("CHATD_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	overrideInt("CHATD_READ_TIMEOUT", &cfg.ReadTimeout)
	overrideInt("CHATD_WRITE_TIMEOUT", &cfg.WriteTimeout)
	overrideInt("CHATD_PROBE_TIMEOUT", &cfg.ProbeTimeout)
	overrideInt("CHATD_POLL_INTERVAL", &cfg.PollInterval)
	if path := os.Getenv("CHATD_CONTROL_SOCKET"); path != "" {
		cfg.ControlSocket = path
	}

	return cfg
}

func overrideInt(key string, dst *int) {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}
