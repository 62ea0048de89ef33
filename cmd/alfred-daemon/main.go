package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	"alfred/internal/audio"
	"alfred/internal/config"
	"alfred/internal/ipc"
	"alfred/internal/listen"
	"alfred/internal/llm"
	"alfred/internal/overlay"
	"alfred/internal/proxy"
	"alfred/internal/relay"
	"alfred/internal/router"
	"alfred/internal/session"
	"alfred/internal/songs"
	"alfred/internal/tts"
	"alfred/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// playbackRate is the output device rate; streams at other rates are resampled.
const playbackRate = 44100

var selfStreams = []string{"alfred-daemon", "ALSA plug-in [alfred-daemon]"}

func main() {
	cfgFile := cli.StringP("config", "c", "alfred.toml", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks Proxy Address")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	noGreet := cli.Bool("no-greet", false, "Do not greet on start")
	mic := cli.String("mic", "", "Microphone backend (whisper|none)")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[*logLevel],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up")

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Error("Failed to load config", "path", *cfgFile, "err", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(*envFile)

	if cli.CommandLine.Changed("proxy") {
		cfg.Proxy = *proxyAddr
	}
	if *mic != "" {
		cfg.Mic.Backend = *mic
	}
	if *noGreet {
		cfg.Greet = false
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid config", "err", err)
		os.Exit(1)
	}

	log.Debug("Loaded config", "model", cfg.LLM.Model, "mic", cfg.Mic.Backend, "proxy", cfg.Proxy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg config.Config) error {
	httpClient, err := proxy.NewHTTPClient(cfg.Proxy, 2*time.Minute)
	if err != nil {
		return err
	}

	bridge := llm.New(llm.Options{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		Persona:        cfg.LLM.Persona,
		LanguageSuffix: cfg.LLM.LanguageSuffix,
		StripReasoning: cfg.LLM.StripReasoning,
		HTTPClient:     httpClient,
	})
	rt := router.New(bridge, cfg.Phrases, cfg.Cards)

	synth := tts.NewClient(httpClient, cfg.Speech.URL, cfg.Speech.Voice, cfg.Speech.Rate, cfg.Speech.Pitch)

	var songSrc audio.SongSource
	if cfg.Songs.Dir != "" {
		songSrc = songs.NewLibrary(cfg.Songs.Dir)
		log.Debug("Using local song library", "dir", cfg.Songs.Dir)
	} else {
		songSrc = songs.NewClient(httpClient, cfg.Songs.URL)
	}

	ctrl := audio.NewController(synth, songSrc, audio.NewSpeaker(playbackRate),
		audio.WithFallbackDelay(cfg.Speech.FallbackDelay.D()))

	var (
		m        *session.Machine
		files    ipc.FileTranscriber
		opts     []session.Option
		cleanups []func()
	)
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	if cfg.Mic.Backend == "whisper" {
		rec := audio.NewRecorder(audio.DefaultVAD)
		if err := rec.Init(); err != nil {
			return err
		}
		cleanups = append(cleanups, rec.Close)

		tr, err := stt.Open(cfg.Mic.Model, stt.Options{Language: cfg.Mic.Language})
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { tr.Close() })
		log.Debug("Loaded whisper", "model", cfg.Mic.Model)

		lis := listen.New(ctx, rec, tr, func(text string) { m.Hear(text) })
		gate := session.NewGate(lis, cfg.Mic.Debounce.D())
		cleanups = append(cleanups, lis.Wait, gate.Close)

		files = lis
		opts = append(opts, session.WithGate(gate))
	}

	var (
		hub *overlay.Hub
		rel *relay.Relay
	)
	opts = append(opts, session.WithObserver(func(s session.State) { hub.Publish(s) }))
	if cfg.NATS.URL != "" {
		opts = append(opts, session.WithObserver(func(s session.State) { rel.Publish(s) }))
	}

	audible := make(chan bool, 1)
	if cfg.Ducking.Enabled {
		opts = append(opts, session.WithObserver(func(s session.State) {
			latest(audible, s.Mode.Audible())
		}))
	}

	m = session.New(rt, ctrl, opts...)
	hub = overlay.NewHub(m)

	if cfg.NATS.URL != "" {
		if rel, err = relay.Connect(cfg.NATS.URL, cfg.NATS.Prefix, m); err != nil {
			return err
		}
		cleanups = append(cleanups, rel.Close)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return ipc.NewServer(cfg.IPCSocket, m, files).Serve(ctx)
	})

	g.Go(func() error {
		return serveOverlay(ctx, cfg.Overlay.Listen, hub)
	})

	if cfg.Ducking.Enabled {
		ducker := audio.NewDucker(selfStreams, cfg.Ducking.Factor, cfg.Ducking.Fade.D())
		g.Go(func() error {
			duck(ctx, ducker, audible)
			return nil
		})
	}

	log.Info("Boot up - successful")

	if cfg.Greet {
		m.Greet()
	}

	return g.Wait()
}

func serveOverlay(ctx context.Context, addr string, hub *overlay.Hub) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Overlay hub listening", "addr", addr, "path", overlay.Path)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// latest replaces any unread value in ch with v.
func latest(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func duck(ctx context.Context, d *audio.Ducker, audible <-chan bool) {
	defer d.Restore(context.Background())

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-audible:
			d.Set(ctx, a)
		}
	}
}
