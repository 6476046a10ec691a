package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/audio"
	"github.com/satindergrewal/whitenoise/internal/composer"
	"github.com/satindergrewal/whitenoise/internal/render"
	"github.com/satindergrewal/whitenoise/internal/schedule"
	"github.com/satindergrewal/whitenoise/internal/server"
	"github.com/satindergrewal/whitenoise/internal/stream"
	"github.com/satindergrewal/whitenoise/internal/transport"
)

var (
	servePort int
	serveICE  []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server with the server-side player and audio streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if servePort > 0 {
			cfg.Port = servePort
		}
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides WHITENOISE_PORT)")
	serveCmd.Flags().StringSliceVar(&serveICE, "ice", nil, "ICE server URLs for WebRTC listeners")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	log := logger
	log.Info("whitenoise starting up", zap.Int("port", cfg.Port))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.watch(ctx, log)

	// Software engine, its real-time loop and the listener fan-out.
	mixer := audio.NewMixer(log.Named("mixer"))
	go mixer.Run(ctx)
	defer mixer.Close()

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, mixer.Frames())

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, serveICE, log.Named("webrtc"))
	defer webrtcHandler.Close()
	mp3Handler := stream.NewHTTPHandler(broadcaster, stream.MP3Config{
		FFmpegPath: cfg.FFmpegPath,
		Bitrate:    cfg.StreamBitrate,
	}, log.Named("mp3"))

	var player *transport.Transport
	hub := server.NewHub(func() any { return player.Status() }, log.Named("ws"))
	player = transport.New(
		audio.NewGraph(mixer, cfg.MasterVolume),
		schedule.New(mixer, a.assets, log.Named("schedule")),
		a.repo,
		log.Named("transport"),
		transport.Config{
			PollInterval: cfg.PollInterval,
			Hooks: transport.Hooks{
				OnProgress: func(elapsed float64, active []string) { hub.Broadcast(server.ProgressEvent(elapsed, active)) },
				OnState:    func(s transport.State) { hub.Broadcast(server.StateEvent(s.String())) },
				OnError:    func(err error) { hub.Broadcast(server.ErrorEvent(err)) },
			},
		},
	)
	defer player.Close()

	renderer := render.NewService(a.repo, a.assets, cfg.ComposedDir, "/renders/", log.Named("render"))
	defer renderer.Wait()

	deps := server.Deps{
		Repo:      a.repo,
		Library:   a.lib,
		Audio:     a.source,
		Player:    player,
		Renderer:  renderer,
		RenderDir: cfg.ComposedDir,
		Hub:       hub,
		MP3:       mp3Handler,
		WebRTC:    webrtcHandler,
	}
	if a.store != nil {
		deps.Store = a.store
	}
	if cfg.OllamaURL != "" {
		client := composer.NewClient(cfg.OllamaURL, cfg.OllamaModel, log.Named("ollama"))
		readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
		if client.Available(readyCtx) {
			log.Info("ollama connected", zap.String("model", client.Model()))
		} else {
			log.Warn("ollama not reachable yet, compose requests will fail until it is", zap.String("url", cfg.OllamaURL))
		}
		readyCancel()
		deps.Composer = composer.NewGenerator(client, a.lib, log.Named("composer"))
	} else {
		log.Info("ollama not configured (set WHITENOISE_OLLAMA_URL to enable the composer)")
	}

	return server.New(deps, log.Named("http")).Run(ctx, fmt.Sprintf(":%d", cfg.Port))
}
