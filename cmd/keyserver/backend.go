package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/mozilla-services/keyretrieval/auth"
	"github.com/mozilla-services/keyretrieval/storage"
)

// openStore builds the store selected by the configuration. The returned
// cleanup function must be called once the store is no longer in use.
func openStore(c *config) (store storage.Store, cleanup func() error, err error) {
	noop := func() error { return nil }
	sc := c.Storage
	switch sc.Type {
	case "memory":
		return storage.NewInMemoryStore(), noop, nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0700); err != nil {
			return nil, nil, fmt.Errorf("could not ensure directory for %q exists: %w", sc.Path, err)
		}
		db, err := bolt.Open(sc.Path, 0600, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("could not open database %q: %w", sc.Path, err)
		}
		s, err := storage.NewBoltStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	case "disk":
		if err := os.MkdirAll(sc.Path, 0700); err != nil {
			return nil, nil, fmt.Errorf("could not ensure directory %q exists: %w", sc.Path, err)
		}
		return storage.NewDiskStore(sc.Path), noop, nil
	case "sql":
		s, err := storage.NewSQLStore(sc.SQLURI, storage.SQLOptions{
			PoolSize:        sc.PoolSize,
			PoolMaxOverflow: sc.PoolMaxOverflow,
			PoolRecycle:     time.Duration(sc.PoolRecycle) * time.Second,
			NoPool:          sc.NoPool,
			CreateTables:    sc.CreateTables,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "s3":
		s, err := storage.NewS3Store(sc.Bucket, awsOptions(c)...)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "dynamodb":
		s, err := storage.NewDynamoDBStore(sc.Table, awsOptions(c)...)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

func awsOptions(c *config) []storage.Option {
	opts := []storage.Option{
		storage.WithProfile(c.Storage.Profile),
		storage.WithRegion(c.Storage.Region),
	}
	if c.Storage.Endpoint != "" {
		opts = append(opts, storage.WithEndpoint(c.Storage.Endpoint))
	}
	return opts
}

// newAuthenticator chains every configured authentication method. With
// none configured, all requests are anonymous and get 401s.
func newAuthenticator(c *config) (auth.Authenticator, error) {
	var authenticators []auth.Authenticator
	if c.Auth.Htpasswd != "" {
		h, err := auth.LoadHtpasswd(c.Auth.Realm, c.Auth.Htpasswd)
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, h)
	}
	if c.Auth.JWTSecret != "" {
		var opts []auth.JWTOption
		if c.Auth.JWTIssuer != "" {
			opts = append(opts, auth.WithIssuer(c.Auth.JWTIssuer))
		}
		if c.Auth.JWTAudience != "" {
			opts = append(opts, auth.WithAudience(c.Auth.JWTAudience))
		}
		authenticators = append(authenticators, auth.NewJWT([]byte(c.Auth.JWTSecret), opts...))
	}
	return auth.Chain(authenticators...), nil
}
