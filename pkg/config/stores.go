package config

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/voxbiblia/ark/pkg/reachability/probe"
	"github.com/voxbiblia/ark/pkg/remote"
	remotehttp "github.com/voxbiblia/ark/pkg/remote/http"
	remotes3 "github.com/voxbiblia/ark/pkg/remote/s3"
	"github.com/voxbiblia/ark/pkg/store/kv"
	"github.com/voxbiblia/ark/pkg/store/kv/badger"
)

// OpenStore opens the durable key/value store described by the
// configuration, creating the directory if needed. The caller owns the
// returned store and closes it on shutdown.
func OpenStore(cfg *Config) (kv.Store, error) {
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("store path is not configured")
	}
	if err := os.MkdirAll(cfg.Store.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	store, err := badger.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

// NewContentSource creates the content backend selected by remote.kind.
//
// The http kind returns a REST client against remote.base_url; the s3 kind
// builds an S3 client from the configured credentials and verifies bucket
// access before returning.
func NewContentSource(ctx context.Context, cfg *Config) (remote.ContentSource, error) {
	switch cfg.Remote.Kind {
	case "http":
		return newHTTPClient(cfg), nil

	case "s3":
		client, err := remotes3.NewClient(ctx,
			cfg.Remote.S3.Endpoint,
			cfg.Remote.S3.Region,
			cfg.Remote.S3.AccessKeyID,
			cfg.Remote.S3.SecretAccessKey,
			cfg.Remote.S3.ForcePathStyle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		source, err := remotes3.New(ctx, remotes3.Config{
			Client:    client,
			Bucket:    cfg.Remote.S3.Bucket,
			KeyPrefix: cfg.Remote.S3.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 content source: %w", err)
		}
		return source, nil

	default:
		return nil, fmt.Errorf("unknown remote kind: %s", cfg.Remote.Kind)
	}
}

// NewSyncService creates the mutation backend. Only the http kind carries a
// sync surface; with an s3 backend mutations stay queued locally, which the
// second return value reports.
func NewSyncService(cfg *Config) (remote.SyncService, bool) {
	if cfg.Remote.Kind != "http" {
		return nil, false
	}
	return newHTTPClient(cfg), true
}

// NewReachabilityMonitor creates the connectivity monitor, or nil when no
// probe URL is configured (the engine then assumes it is always online).
// The caller starts and closes the returned monitor.
func NewReachabilityMonitor(cfg *Config) (*probe.Monitor, error) {
	if cfg.Reachability.ProbeURL == "" {
		return nil, nil
	}

	monitor, err := probe.New(probe.Config{
		URL:       cfg.Reachability.ProbeURL,
		Interval:  cfg.Reachability.Interval,
		Timeout:   cfg.Reachability.Timeout,
		Threshold: cfg.Reachability.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reachability monitor: %w", err)
	}
	return monitor, nil
}

// newHTTPClient builds the REST client shared by the content and sync
// surfaces of the http backend.
func newHTTPClient(cfg *Config) *remotehttp.Client {
	client := remotehttp.NewWithClient(cfg.Remote.BaseURL, &http.Client{
		Timeout: cfg.Remote.Timeout,
	})
	if cfg.Remote.Token != "" {
		client.SetToken(cfg.Remote.Token)
	}
	return client
}
