package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lexion/cmd/internal/auth/credstore"
	"lexion/cmd/internal/auth/session"
	"lexion/cmd/internal/camera"
	"lexion/cmd/internal/camera/imagedir"
	"lexion/cmd/internal/camera/wsdevice"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// credentials is the persisted-credential backend plus its lifecycle.
type credentials struct {
	session.CredentialStore

	kind string
	pool *pgxpool.Pool
	lite *credstore.SQLite
}

// Ping reports whether the backend is reachable (readiness).
func (c *credentials) Ping(ctx context.Context) error {
	switch {
	case c.pool != nil:
		return PingDB(ctx, c.pool, pingTimeout)
	case c.lite != nil:
		return c.lite.Ping(ctx)
	default:
		return nil
	}
}

// Close releases the pool or database handle; the app owns both.
func (c *credentials) Close(_ context.Context) error {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.lite != nil {
		return c.lite.Close()
	}
	return nil
}

// newCredentials builds the configured backend, sealed when a key is set.
func newCredentials(ctx context.Context, cfg Config, log Logger) (*credentials, error) {
	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}

	c := &credentials{kind: cfg.CredentialStore}
	var inner session.CredentialStore

	switch cfg.CredentialStore {
	case CredentialStoreMemory:
		inner = credstore.NewMemory()

	case CredentialStoreFile:
		path, err := cfg.credentialPath()
		if err != nil {
			return nil, err
		}
		f, err := credstore.NewFile(path)
		if err != nil {
			return nil, err
		}
		inner = f

	case CredentialStoreSQLite:
		path, err := cfg.credentialPath()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
		lite, err := credstore.OpenSQLite(path, "default")
		if err != nil {
			return nil, err
		}
		c.lite = lite
		inner = lite

	case CredentialStorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		pg, err := credstore.NewPostgres(pool, "default")
		if err == nil {
			err = pg.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, err
		}
		c.pool = pool
		inner = pg

	default:
		return nil, fmt.Errorf("unknown credential store %q", cfg.CredentialStore)
	}

	c.CredentialStore = credstore.NewSealed(inner, sealer, cfg.RequireSealedCredential)
	log.Info("credstore.ready", "kind", c.kind, "sealed", sealer != nil, "require_sealed", cfg.RequireSealedCredential)
	return c, nil
}

// noCamera is used when no camera source is configured.
type noCamera struct{}

func (noCamera) Open(context.Context, camera.Constraints) (camera.Stream, error) {
	return nil, camera.ErrNoDevice
}

// newCamera picks the configured source and makes it exclusive across flows.
func newCamera(cfg Config, log Logger) (*camera.Exclusive, error) {
	var dev camera.Device
	switch {
	case cfg.CameraURL != "":
		d, err := wsdevice.New(cfg.CameraURL, log)
		if err != nil {
			return nil, fmt.Errorf("LEXION_CAMERA_URL: %w", err)
		}
		dev = d
	case cfg.CameraDir != "":
		d, err := imagedir.New(cfg.CameraDir)
		if err != nil {
			return nil, fmt.Errorf("LEXION_CAMERA_DIR: %w", err)
		}
		dev = d
	default:
		log.Info("camera.disabled")
		dev = noCamera{}
	}
	return camera.NewExclusive(dev), nil
}
