// Command kamishibai runs the paper-theater conversation engine: it loads
// the scenario graph, wires the LLM and stage transports, and serves the
// operator API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/paper-theater/kamishibai/internal/api"
	"github.com/paper-theater/kamishibai/internal/config"
	"github.com/paper-theater/kamishibai/internal/conversation"
	"github.com/paper-theater/kamishibai/internal/events"
	"github.com/paper-theater/kamishibai/internal/llm"
	"github.com/paper-theater/kamishibai/internal/mood"
	"github.com/paper-theater/kamishibai/internal/realtime"
	"github.com/paper-theater/kamishibai/internal/scenario"
	"github.com/paper-theater/kamishibai/internal/stage"
	"github.com/paper-theater/kamishibai/internal/storage/postgres"
	"github.com/paper-theater/kamishibai/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "engine.yaml", "path to the engine config file")
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("engine failed", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func run(configPath string, logger *zap.Logger) error {
	events.SetLogger(logger)
	api.SetLogger(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", configPath, err)
	}

	graph, err := scenario.LoadFile(cfg.ScenarioPath())
	if err != nil {
		return err
	}
	pages := 0
	for _, s := range graph.Scenes {
		pages += len(s.Pages)
	}
	events.Emit("info", "scenario.loaded", "scenario loaded", map[string]interface{}{
		"path":   cfg.ScenarioPath(),
		"scenes": len(graph.Scenes),
		"pages":  pages,
	})
	for _, d := range graph.DanglingTargets() {
		logger.Warn("dangling transition target", zap.String("transition", d))
	}

	palette := mood.New(graph.MoodImages)

	apiKey, err := config.OpenAIKey()
	if err != nil {
		return err
	}
	if apiKey == "" {
		logger.Warn("OPENAI_API_KEY not set, every turn will degrade")
	}

	completer := llm.NewOpenAI(apiKey, llm.Options{
		Model:       cfg.LLMModel(),
		Temperature: cfg.LLMTemperature(),
		MaxTokens:   cfg.LLMMaxTokens(),
		BaseURL:     cfg.LLM.BaseURL,
	})
	analyzer := llm.NewOpenAI(apiKey, llm.Options{
		Model:       cfg.AnalysisModel(),
		Temperature: cfg.AnalysisTemperature(),
		MaxTokens:   cfg.AnalysisMaxTokens(),
		BaseURL:     cfg.LLM.BaseURL,
	})

	var dialer realtime.Dialer
	if cfg.Voice.Enabled {
		dialer = realtime.NewOpenAIDialer(apiKey, realtime.DialOptions{
			Model: cfg.VoiceModel(),
			Voice: cfg.VoiceName(),
		})
	}

	session := conversation.New(conversation.Deps{
		Graph:     graph,
		Palette:   palette,
		Completer: completer,
		Analyzer:  analyzer,
		Dialer:    dialer,
		Logger:    logger,
	})

	// Stage transport. The broker is optional: a failed connect leaves the
	// paho client retrying in the background and the engine running headless.
	clientID := "kamishibai-" + uuid.NewString()[:8]
	mqttClient := stage.NewClient(clientID, cfg.MQTTBroker(), logger)
	mqttConnected := mqttClient.StartWithRetry()
	api.SetMQTTState(mqttConnected, true)

	registry := stage.NewRegistry(2.0)
	if mqttConnected {
		if err := registry.Attach(mqttClient); err != nil {
			logger.Warn("display registry attach failed", zap.Error(err))
		}
	}
	registry.Start(5 * time.Second)
	defer registry.Stop()

	publisher := stage.NewPublisher(mqttClient, palette, logger)

	// Event archive. Postgres is optional the same way.
	store, err := postgres.New()
	if err != nil {
		logger.Warn("postgres unavailable, events stay in memory", zap.Error(err))
		api.SetPostgresState(false, true)
	} else {
		events.SetStore(store)
		api.SetEventArchive(store)
		api.SetPostgresState(true, true)
		defer store.Close()
	}

	api.SetSession(session)
	api.SetStagePublisher(publisher)
	api.SetEngineIdentity(cfg.EngineName(), cfg.ScenarioPath(), cfg.AssetDir())
	api.SetVoiceClientRate(cfg.VoiceSampleRate())
	api.InitAuth()
	api.InitTLS()
	api.InitAlerts()
	api.StartAlertMonitor(15 * time.Second)
	api.SetOrchestratorReady(true)

	hostname, _ := os.Hostname()
	events.Emit("info", "engine.startup", "engine starting", map[string]interface{}{
		"engine":   cfg.EngineName(),
		"version":  version.Version,
		"hostname": hostname,
		"port":     cfg.APIPort(),
		"voice":    cfg.Voice.Enabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(ctx, cfg.APIPort())
	})
	// Keep readiness in step with the live handles: paho reconnects in the
	// background and postgres can come and go.
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				api.SetMQTTState(mqttClient.IsConnected(), true)
				if store != nil {
					api.SetPostgresState(store.Ping() == nil, true)
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		events.Emit("info", "engine.shutdown", "engine stopping", nil)
		events.CloseAllSubscribers()
		mqttClient.Disconnect()
		return nil
	})

	return g.Wait()
}
