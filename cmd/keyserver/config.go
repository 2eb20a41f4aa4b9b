package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rogpeppe/rjson"
)

type config struct {
	Listen         string `json:"listen"`
	MetricsListen  string `json:"metrics_listen"`
	Debug          bool   `json:"debug"`
	LogPath        string `json:"log_path"`
	BackendTimeout string `json:"backend_timeout"`

	Storage struct {
		Type string `json:"type"`

		// Properties for "bolt" and "disk" types.
		Path string `json:"path"`

		// Properties for "sql" type.
		SQLURI          string `json:"sqluri"`
		CreateTables    bool   `json:"create_tables"`
		NoPool          bool   `json:"no_pool"`
		PoolSize        int    `json:"pool_size"`
		PoolMaxOverflow int    `json:"pool_max_overflow"`
		PoolRecycle     int    `json:"pool_recycle"`

		// Properties for "s3" and "dynamodb" types.
		Profile  string `json:"profile"`
		Region   string `json:"region"`
		Bucket   string `json:"bucket"`
		Table    string `json:"table"`
		Endpoint string `json:"endpoint"`
	} `json:"storage"`

	Auth struct {
		Realm       string `json:"realm"`
		Htpasswd    string `json:"htpasswd"`
		JWTSecret   string `json:"jwt_secret"`
		JWTIssuer   string `json:"jwt_issuer"`
		JWTAudience string `json:"jwt_audience"`
	} `json:"auth"`

	backendTimeout time.Duration
}

func loadConfig(pathname string) (*config, error) {
	f, err := os.Open(pathname)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	var c *config
	if err := rjson.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("%q: %w", pathname, err)
	}
	if c == nil {
		c = new(config)
	}
	if err := c.applyDefaultsForMissingProperties(); err != nil {
		return nil, fmt.Errorf("%q: %w", pathname, err)
	}
	return c, nil
}

func (c *config) applyDefaultsForMissingProperties() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogPath != "" {
		c.LogPath = os.ExpandEnv(c.LogPath)
	}
	if c.BackendTimeout == "" {
		c.BackendTimeout = "5s"
	}
	d, err := time.ParseDuration(c.BackendTimeout)
	if err != nil {
		return fmt.Errorf("backend_timeout: %w", err)
	}
	c.backendTimeout = d
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	switch c.Storage.Type {
	case "bolt":
		if c.Storage.Path == "" {
			c.Storage.Path = "$HOME/lib/keyretrieval/keydata.db"
		}
	case "disk":
		if c.Storage.Path == "" {
			c.Storage.Path = "$HOME/lib/keyretrieval/data"
		}
	case "sql":
		if c.Storage.SQLURI == "" {
			return fmt.Errorf("storage: sqluri is required for type %q", c.Storage.Type)
		}
		if c.Storage.PoolSize == 0 {
			c.Storage.PoolSize = 100
		}
		if c.Storage.PoolMaxOverflow == 0 {
			c.Storage.PoolMaxOverflow = 10
		}
		if c.Storage.PoolRecycle == 0 {
			c.Storage.PoolRecycle = 60
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage: bucket is required for type %q", c.Storage.Type)
		}
	case "dynamodb":
		if c.Storage.Table == "" {
			return fmt.Errorf("storage: table is required for type %q", c.Storage.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("storage: unknown type %q", c.Storage.Type)
	}
	c.Storage.Path = os.ExpandEnv(c.Storage.Path)
	if c.Auth.Realm == "" {
		c.Auth.Realm = "keyretrieval"
	}
	c.Auth.Htpasswd = os.ExpandEnv(c.Auth.Htpasswd)
	return nil
}
