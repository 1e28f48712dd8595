package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	"theravox/internal/audio"
	"theravox/internal/audio/duck"
	"theravox/internal/bus"
	"theravox/internal/chat"
	"theravox/internal/config"
	"theravox/internal/control"
	"theravox/internal/domain"
	"theravox/internal/health"
	"theravox/internal/ipc"
	"theravox/internal/notify"
	"theravox/internal/ports"
	"theravox/internal/proxy"
	"theravox/internal/session"
	"theravox/internal/store"
	"theravox/internal/stt"
	"theravox/internal/tts"
	"theravox/internal/tts/espeak"
	"theravox/pkg/audioconv"
	whisper "theravox/pkg/stt"
)

const archiveSummaryTurns = 10

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address")
	provider := cli.String("provider", "", "Chat provider id")
	sttBackend := cli.String("stt", "", "Transcription backend (whisper|deepgram)")
	ttsBackend := cli.String("tts", "", "Synthesis backend (elevenlabs|espeak|none)")
	input := cli.StringP("input", "i", "", "Replay an audio file instead of the microphone")
	busURL := cli.StringP("url", "u", "", "Url of hub")
	archive := cli.String("archive", "", "Sqlite file for the conversation archive")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	if err := godotenv.Load(*envFile); err != nil {
		log.Debug("No env file loaded", "path", *envFile, "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	overrideString(&cfg.ProxyAddr, "proxy", *proxyAddr)
	overrideString((*string)(&cfg.Session.Provider), "provider", *provider)
	overrideString(&cfg.Transcription.Backend, "stt", *sttBackend)
	overrideString(&cfg.Synthesis.Backend, "tts", *ttsBackend)
	overrideString(&cfg.Transcription.InputFile, "input", *input)
	overrideString(&cfg.BusURL, "url", *busURL)
	overrideString(&cfg.ArchivePath, "archive", *archive)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func overrideString(dst *string, flag, value string) {
	if cli.CommandLine.Changed(flag) {
		*dst = value
	}
}

func run(ctx context.Context, cfg config.Config) error {
	httpClient, err := proxy.NewClient(cfg.ProxyAddr, 0)
	if err != nil {
		return err
	}
	if cfg.ProxyAddr != "" {
		log.Debug("Loaded proxy", "addr", cfg.ProxyAddr)
	}

	providers, err := chat.LoadCatalog(cfg.Chat.CatalogPath)
	if err != nil {
		return err
	}
	for i := range providers {
		providers[i].ResolveKey(os.Getenv)
		if providers[i].APIKey == "" {
			log.Warn("Provider has no API key", "provider", providers[i].ID, "env", providers[i].APIKeyEnv)
		}
	}
	chatClient := chat.NewClient(providers, chat.Options{HTTPClient: httpClient, Timeout: cfg.Chat.Timeout})
	log.Debug("Loaded chat providers", "providers", chatClient.Providers())

	mic, closeMic, err := openMicrophone(cfg.Transcription)
	if err != nil {
		return err
	}
	defer closeMic()

	source, closeSource, err := newSource(cfg.Transcription, mic)
	if err != nil {
		return err
	}
	defer closeSource()

	var ducker *duck.Ducker
	if cfg.Synthesis.Duck {
		ducker = duck.New([]string{"theravox"}, 10)
	}
	player := audio.NewPlayer(ducker)
	ttsClient, err := proxy.NewClient(cfg.ProxyAddr, cfg.Session.SynthesisTimeout)
	if err != nil {
		return err
	}
	synth := newSynthesizer(cfg.Synthesis, ttsClient)

	healthCtx := &health.Context{}
	collector := newCollector(cfg.Health, healthCtx, httpClient)

	sinks := ports.Sinks{notify.NewCue(player, cfg.CueFile)}

	var arc *store.Archive
	if cfg.ArchivePath != "" {
		if arc, err = store.Open(cfg.ArchivePath); err != nil {
			return err
		}
		defer arc.Close()
		if n, err := arc.Count(ctx); err == nil {
			log.Info("Archive opened", "path", cfg.ArchivePath, "turns", n, "session", arc.Session())
		}
		sinks = append(sinks, arc)
	}

	var handler control.Handler
	var hub *bus.Bus
	if cfg.BusURL != "" {
		hub = bus.New(bus.Config{URL: cfg.BusURL}, func(ctx context.Context, cmd, arg string) (domain.Status, error) {
			return handler(ctx, cmd, arg)
		})
		sinks = append(sinks, hub)
	}

	sc := cfg.Session
	machine := session.NewMachine(session.Deps{
		Source: source,
		Chat:   chatClient,
		Synth:  synth,
		Player: player,
		Health: healthCtx,
		Sink:   sinks,
	}, session.Config{
		Provider:               sc.Provider,
		TTSEnabled:             sc.TTSEnabled && synth != nil,
		SilenceThresholdDB:     sc.SilenceThresholdDB,
		SilenceTimeout:         sc.SilenceTimeout,
		FinalizeGrace:          sc.FinalizeGrace,
		ReplyTimeout:           sc.ReplyTimeout,
		SynthesisTimeout:       sc.SynthesisTimeout,
		MaxRecognitionAttempts: sc.MaxRecognitionAttempts,
		RetryBackoff:           sc.RetryBackoff,
	})
	handler = control.NewHandler(machine)

	log.Info("Boot up - successful", "provider", sc.Provider, "stt", cfg.Transcription.Backend, "tts", cfg.Synthesis.Backend)

	// The archive outlives the machine so turns resolved on shutdown are saved.
	arcCtx, stopArchive := context.WithCancel(context.WithoutCancel(ctx))
	arcDone := make(chan struct{})
	if arc != nil {
		go func() {
			defer close(arcDone)
			arc.Run(arcCtx)
		}()
	} else {
		close(arcDone)
	}
	defer func() {
		stopArchive()
		<-arcDone
		if arc != nil {
			logArchivedSession(arc)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return machine.Run(gctx) })
	g.Go(func() error { return ipc.NewServer(cfg.SocketPath, handler).Serve(gctx) })
	if collector != nil {
		g.Go(func() error { return collector.Run(gctx, cfg.Health.RefreshInterval) })
	}
	if hub != nil {
		g.Go(func() error { return hub.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openMicrophone(cfg config.TranscriptionConfig) (stt.Microphone, func(), error) {
	if cfg.InputFile != "" {
		log.Info("Replaying audio file instead of microphone", "path", cfg.InputFile)
		return &audioconv.FileMicrophone{Path: cfg.InputFile, Realtime: true, Tail: 2 * time.Second}, func() {}, nil
	}

	rec := audio.NewRecorder()
	if err := rec.Init(); err != nil {
		return nil, nil, err
	}
	log.Debug("Loaded recorder")
	return rec, rec.Close, nil
}

func newSource(cfg config.TranscriptionConfig, mic stt.Microphone) (ports.TranscriptionSource, func(), error) {
	switch cfg.Backend {
	case "deepgram":
		return stt.NewDeepgram(mic, stt.DeepgramConfig{
			APIKey:      cfg.DeepgramAPIKey,
			APIBaseURL:  cfg.DeepgramBaseURL,
			Model:       cfg.DeepgramModel,
			Language:    cfg.DeepgramLang,
			SmartFormat: true,
		}), func() {}, nil
	default:
		tr, err := whisper.NewTranscriber(cfg.WhisperModel, whisper.Options{Language: cfg.WhisperLanguage})
		if err != nil {
			return nil, nil, err
		}
		log.Debug("Loaded whisper", "model", cfg.WhisperModel)
		src := stt.NewWhisper(mic, tr, stt.WhisperConfig{
			EndSilence:  cfg.EndSilence,
			MaxDuration: cfg.MaxUtterance,
		})
		return src, func() { tr.Close() }, nil
	}
}

func newSynthesizer(cfg config.SynthesisConfig, httpClient *http.Client) ports.Synthesizer {
	switch cfg.Backend {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			log.Warn("ELEVENLABS_API_KEY not set, speech synthesis disabled")
			return nil
		}
		el := tts.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)
		if cfg.ElevenLabsBaseURL != "" {
			el.BaseURL = cfg.ElevenLabsBaseURL
		}
		el.OutDir = cfg.OutDir
		el.HTTPClient = httpClient
		return el
	case "espeak":
		s := espeak.New(cfg.EspeakLanguage)
		s.OutDir = cfg.OutDir
		return s
	default:
		return nil
	}
}

func newCollector(cfg config.HealthConfig, hc *health.Context, httpClient *http.Client) *health.Collector {
	var src health.Source
	switch cfg.Source {
	case "", "none":
		return nil
	case "simulated":
		src = health.NewSimulator(time.Now().UnixNano())
	default:
		src = health.FileSource{Path: cfg.Source}
	}

	c := &health.Collector{Source: src, Context: hc}
	if ic := health.NewInsightsClient(cfg.InsightsURL, httpClient); ic.Enabled() {
		c.Analyzer = ic
	}
	return c
}

func logArchivedSession(arc *store.Archive) {
	turns, err := arc.Recent(context.Background(), archiveSummaryTurns)
	if err != nil {
		log.Error("Failed to read archived session", "session", arc.Session(), "err", err)
		return
	}
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	log.Info("Session archived", "session", arc.Session(), "recent", len(turns), "lastSeq", last.Seq, "lastAt", last.Timestamp)
}
