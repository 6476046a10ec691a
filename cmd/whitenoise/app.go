package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/assets"
	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/config"
	"github.com/satindergrewal/whitenoise/internal/repository"
	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// app holds the collaborators every subcommand shares.
type app struct {
	lib    *repository.Library
	repo   repository.Repository
	store  *repository.DirStore // nil with a remote repository
	client *repository.Client   // nil with a local directory
	cached *repository.Cached   // nil without redis
	source assets.Source
	assets *assets.Cache
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{}

	lib, err := repository.LoadLibrary(cfg.DescriptionsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Warn("sound library missing, audio_info disabled", zap.String("path", cfg.DescriptionsPath))
		lib, _ = repository.ParseLibrary(nil)
	}
	a.lib = lib

	opts := timeline.DecodeOptions{DefaultVolume: cfg.DefaultClipVolume}
	if cfg.RepositoryURL != "" {
		a.client = repository.NewClient(cfg.RepositoryURL, opts, log)
		a.repo = a.client
		log.Info("using remote repository", zap.String("url", cfg.RepositoryURL))
	} else {
		a.store = repository.NewDirStore(cfg.CompositionsDir, lib, opts, log)
		a.repo = a.store
		log.Info("using composition directory", zap.String("dir", cfg.CompositionsDir))
	}

	if cfg.RedisAddr != "" {
		c := repository.NewCached(a.repo, repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		}, log)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("redis unreachable, caching disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			c.Close()
		} else {
			a.cached = c
			a.repo = c
		}
	}

	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}
	a.source = src
	dec := audio.NativeDecoder{Fallback: audio.FFmpegDecoder{Path: cfg.FFmpegPath}}
	a.assets = assets.NewCache(src, dec, log, cfg.PreloadConcurrency)
	return a, nil
}

func newSource(cfg config.Config) (assets.Source, error) {
	switch cfg.AssetSource {
	case "http":
		if cfg.RepositoryURL == "" {
			return nil, errors.New("asset source http needs WHITENOISE_REPOSITORY_URL")
		}
		return assets.NewHTTPSource(cfg.RepositoryURL), nil
	case "minio":
		return assets.NewMinioSource(assets.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Prefix:    cfg.MinioPrefix,
			UseSSL:    cfg.MinioUseSSL,
		})
	case "dir", "":
		return assets.DirSource{Dir: cfg.AudioDir}, nil
	default:
		return nil, fmt.Errorf("unknown asset source %q", cfg.AssetSource)
	}
}

// watch invalidates cached documents as composition files change.
func (a *app) watch(ctx context.Context, log *zap.Logger) {
	if a.store == nil || a.cached == nil {
		return
	}
	go func() {
		err := a.store.Watch(ctx, func(id string) { a.cached.Invalidate(ctx, id) })
		if err != nil {
			log.Warn("composition watcher stopped", zap.Error(err))
		}
	}()
}

func (a *app) close() {
	if a.cached != nil {
		a.cached.Close()
	}
}
