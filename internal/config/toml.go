package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the TOML configuration file named in spec.md §6. Every
// field is optional; zero values mean "not set in the file" and are left for
// the environment-variable layer (or the built-in default) to fill in.
type fileConfig struct {
	Server struct {
		Name        string `toml:"name"`
		Description string `toml:"description"`
		URL         string `toml:"url"`
		Port        int    `toml:"port"`
		Env         string `toml:"env"`
	} `toml:"server"`

	Mongodb struct {
		URI string `toml:"uri"`
	} `toml:"mongodb"`

	Valkey struct {
		URL string `toml:"url"`
	} `toml:"valkey"`

	S3 struct {
		Endpoint string `toml:"endpoint"`
		Region   string `toml:"region"`
		Bucket   string `toml:"bucket"`
		Key      string `toml:"key"`
		Secret   string `toml:"secret"`
	} `toml:"s3"`

	Session struct {
		Secret string `toml:"secret"`
		MaxAge string `toml:"max_age"`
	} `toml:"session"`

	SMTP struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
		User string `toml:"user"`
		Pass string `toml:"pass"`
		From string `toml:"from"`
	} `toml:"smtp"`

	CORS struct {
		Origins []string `toml:"origins"`
	} `toml:"cors"`

	Security struct {
		TorBlock       bool     `toml:"tor_block"`
		AllowTorExits  []string `toml:"allow_tor_exits"`
	} `toml:"security"`

	Network struct {
		InactivityTimeout string `toml:"inactivity_timeout"`
		RoleFetchTimeout  string `toml:"role_fetch_timeout"`
		OutboundQueue     int    `toml:"outbound_queue"`
	} `toml:"network"`

	Metrics struct {
		Bind string `toml:"bind"`
	} `toml:"metrics"`

	EventBus struct {
		Type string `toml:"type"`
		URL  string `toml:"url"`
	} `toml:"event_bus"`
}

// loadFile reads and parses the TOML configuration file at path. A missing
// file is not an error — the caller falls back entirely to built-in defaults
// and environment overrides, matching the teacher's env-only Load() when no
// file is configured.
func loadFile(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, fc); err != nil {
		return nil, err
	}
	return fc, nil
}
