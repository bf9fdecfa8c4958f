package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/normanking/cortexcompanion/internal/a2a"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/companion"
	"github.com/normanking/cortexcompanion/internal/config"
	"github.com/normanking/cortexcompanion/internal/emotion"
	"github.com/normanking/cortexcompanion/internal/gesture"
	"github.com/normanking/cortexcompanion/internal/lipsync"
	"github.com/normanking/cortexcompanion/internal/logging"
	"github.com/normanking/cortexcompanion/internal/memory"
	"github.com/normanking/cortexcompanion/internal/metrics"
	"github.com/normanking/cortexcompanion/internal/render"
	"github.com/normanking/cortexcompanion/internal/vision"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the companion, reading conversation turns from stdin",
		Long: `Run starts the animation loop and the viewer hub, then treats every line
on stdin as a user turn. Lines starting with a slash are commands:

  /people N   adjust posture for N people in view
  /stop       cut off the current lip-sync
  /emotion E  set an emotion directly`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *configDir, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func run(parent context.Context, configDir string, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}

	bootstrap := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	loader, err := config.NewLoader(configDir, bootstrap)
	if err != nil {
		return err
	}
	envPaths := []string{filepath.Join(loader.Dir(), ".env"), ".env"}
	if err := config.LoadDotEnv(envPaths...); err != nil {
		bootstrap.Warn().Err(err).Msg("Failed to load .env")
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      cfg.Log.Level,
		MaxHistory: cfg.Log.MaxHistory,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("main")
	log.Info().Str("version", version).Str("config", loader.ConfigFileUsed()).Msg("Starting companion")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		m, shutdown, err := metrics.InitProvider(ctx, metrics.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = shutdown(sctx)
		}()
		met = m
	}

	events := bus.NewEventBus()
	events.SetLogger(logger.Component("bus"))
	events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeEmotionChanged,
		bus.EventTypeGestureStarted,
		bus.EventTypeGestureExpired,
		bus.EventTypePostureChanged,
		bus.EventTypeChannelRejected,
		bus.EventTypeScheduleSuperseded,
		bus.EventTypeTurnCompleted,
	}, func(e bus.Event) {
		eventLog := logger.Component("events")
		eventLog.Debug().Str("type", string(e.Type)).Interface("data", e.Data).Msg("Event")
	})

	var renderers render.Multi
	var hub *render.Hub
	if cfg.Render.ListenAddr != "" {
		hub = render.NewHub(logger.Component("render"))
		renderers = append(renderers, hub)
	}
	if cfg.Render.LogFrames {
		renderers = append(renderers, render.NewLogRenderer(logger.Component("render")))
	}

	clock := clockwork.NewRealClock()
	engine := avatar.NewEngine(cfg.Avatar.EngineConfig(), renderers, clock, logger.Component("avatar"))
	engine.SetEventBus(events)
	engine.SetMetrics(met)

	store := memory.NewStore(cfg.Memory.StoreConfig(), memory.NopArchiver{}, clock, logger.Component("memory"))
	scheduler := lipsync.NewScheduler(cfg.LipSync.SchedulerConfig(), engine, clock, logger.Component("lipsync"))
	scheduler.SetEventBus(events)
	scheduler.SetMetrics(met)

	var brain companion.Brain = companion.EchoBrain{}
	if cfg.Brain.URL != "" {
		agent := a2a.NewClient(a2a.Config{
			ServerURL: cfg.Brain.URL,
			PersonaID: cfg.Brain.Persona,
			UserID:    cfg.Brain.UserID,
			Timeout:   cfg.Brain.Timeout,
		}, logger.Component("a2a"))
		if _, err := agent.DiscoverAgent(ctx); err != nil {
			log.Warn().Err(err).Msg("Agent card unavailable, continuing")
		}
		brain = agent
	}

	comp, err := companion.New(companion.Deps{
		Engine:   engine,
		Brain:    brain,
		Speaker:  companion.EstimatedSpeaker{CharsPerSecond: cfg.LipSync.CharsPerSec},
		Memory:   store,
		Emotions: emotion.NewResolver(cfg.Emotion.ResolverConfig(), store, engine, clock, logger.Component("emotion")),
		Gestures: gesture.NewResolver(engine, logger.Component("gesture"), gesture.WithIntensity(cfg.Gesture.DefaultIntensity)),
		LipSync:  scheduler,
	}, clock, logger.Component("companion"))
	if err != nil {
		return err
	}
	comp.SetEventBus(events)
	comp.SetMetrics(met)

	var detections *vision.Client
	if cfg.Vision.URL != "" {
		if detections, err = vision.NewClient(cfg.Vision.URL, comp, clock, logger.Component("vision")); err != nil {
			return fmt.Errorf("vision: %w", err)
		}
	}

	// Couplings are the only hot-reloadable setting; the rest needs a restart.
	loader.Watch(func(next *config.Config) {
		engine.SetCouplings(next.Avatar.Couplings)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(engine.Run(gctx, cfg.Avatar.TickInterval))
	})

	if hub != nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		serve(gctx, g, &http.Server{Addr: cfg.Render.ListenAddr, Handler: mux}, log, func() { hub.Close() })
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		serve(gctx, g, &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}, log, nil)
	}

	if detections != nil {
		g.Go(func() error {
			return ignoreCanceled(detections.Run(gctx))
		})
	}

	g.Go(func() error {
		return readTurns(gctx, in, out, comp, engine, log)
	})

	err = g.Wait()
	scheduler.Stop()
	scheduler.Wait()
	log.Info().Msg("Companion stopped")
	return err
}

// serve runs srv in g and shuts it down when ctx ends.
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server, log zerolog.Logger, onStop func()) {
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		if onStop != nil {
			onStop()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

// readTurns feeds stdin lines to the companion until ctx ends. The scanner
// runs on its own goroutine since stdin reads cannot be cancelled.
func readTurns(ctx context.Context, in io.Reader, out io.Writer, comp *companion.Companion, engine *avatar.Engine, log zerolog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// input closed; keep animating until signalled
				<-ctx.Done()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if err := command(line, comp, engine); err != nil {
					fmt.Fprintln(out, "!", err)
				}
				continue
			}

			turn, err := comp.HandleTurn(ctx, line)
			if err != nil {
				log.Error().Err(err).Msg("Turn failed")
				continue
			}
			fmt.Fprintf(out, "[%s, %s] %s\n", turn.CompanionSignal.Category, turn.Gesture, turn.Reply)
		}
	}
}

func command(line string, comp *companion.Companion, engine *avatar.Engine) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/people":
		if len(fields) != 2 {
			return errors.New("usage: /people N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("people: %w", err)
		}
		comp.ObservePeople(n)
	case "/stop":
		comp.Interrupt()
	case "/emotion":
		if len(fields) != 2 {
			return errors.New("usage: /emotion NAME")
		}
		e, err := avatar.ParseEmotion(fields[1])
		if err != nil {
			return err
		}
		engine.SetEmotion(e, 0.8)
	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
