package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicemesh/internal/adapters/capture"
	"github.com/dkeye/voicemesh/internal/adapters/gateway"
	"github.com/dkeye/voicemesh/internal/adapters/playback"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/app/mesh"
	"github.com/dkeye/voicemesh/internal/app/vad"
	"github.com/dkeye/voicemesh/internal/clock"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/metrics"
)

func main() {
	v := config.New("client")
	root := newRootCmd(v)
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicemesh",
		Short: "Join a mesh voice room",
		Long: `voicemesh joins a voice room through the signaling gateway and keeps a direct
audio connection to every other member.

Examples:
  voicemesh --room lobby --source tone:440
  arecord -f S16_LE -r 8000 -c 1 | voicemesh --room lobby --source -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient(v)
			if err != nil {
				return err
			}
			config.SetupLogging(cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("gateway", "", "gateway websocket URL")
	f.String("room", "", "room to join on start")
	f.String("user", "", "user id (random when empty)")
	f.String("source", "", `audio source: "silence", "-" for stdin, "tone:<hz>" or a PCM16LE file`)
	f.String("sink", "", "file receiving decoded remote audio")
	f.String("metrics-addr", "", "serve prometheus metrics on this address")
	f.String("log-level", "", "zerolog level")
	f.Bool("no-activity", false, "disable voice activity reports")

	_ = v.BindPFlag("gateway_url", f.Lookup("gateway"))
	_ = v.BindPFlag("room", f.Lookup("room"))
	_ = v.BindPFlag("user", f.Lookup("user"))
	_ = v.BindPFlag("audio.source", f.Lookup("source"))
	_ = v.BindPFlag("audio.sink", f.Lookup("sink"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("log_level", f.Lookup("log-level"))
	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		if off, _ := cmd.Flags().GetBool("no-activity"); off {
			v.Set("activity.enabled", false)
		}
	}
	return cmd
}

func iceConfig(servers []config.ICEServer) webrtc.Configuration {
	var cfg webrtc.Configuration
	for _, s := range servers {
		if len(s.URLs) == 0 {
			continue
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return cfg
}

func meshOptions(cfg *config.ClientConfig) mesh.Options {
	opts := mesh.DefaultOptions()
	opts.RetryDelay = cfg.Negotiation.RetryDelay
	opts.MaxRetries = cfg.Negotiation.MaxRetries
	opts.ActivityEnabled = cfg.Activity.Enabled
	opts.Activity = vad.Config{
		Threshold: cfg.Activity.Threshold,
		Debounce:  cfg.Activity.Debounce,
		Interval:  cfg.Activity.Interval,
	}
	opts.Constraints.SampleRate = cfg.Audio.SampleRate
	return opts
}

func run(parent context.Context, cfg *config.ClientConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self := domain.NewUserID()
	if cfg.User != "" {
		id, err := domain.ParseUserID(cfg.User)
		if err != nil {
			return fmt.Errorf("user: %w", err)
		}
		self = id
	}

	transport, err := rtc.NewTransport(iceConfig(cfg.ICEServers))
	if err != nil {
		return err
	}
	mic := capture.New(capture.Config{
		Source:     cfg.Audio.Source,
		SampleRate: cfg.Audio.SampleRate,
		FFTSize:    cfg.Activity.FFTSize,
	}, clock.Real())

	var sink io.Writer
	if cfg.Audio.Sink != "" {
		f, err := os.Create(cfg.Audio.Sink)
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		defer f.Close()
		sink = f
	}
	player := playback.NewPlayer(sink)

	reg := prometheus.NewRegistry()
	meshMetrics := metrics.NewMesh(reg)

	gw, err := gateway.Dial(ctx, cfg.GatewayURL, string(self))
	if err != nil {
		return err
	}
	defer gw.Close()

	coord := mesh.New(self, meshOptions(cfg), mesh.Deps{
		Gateway:   gw,
		Capture:   mic,
		Transport: transport,
		Playback:  player,
		Metrics:   meshMetrics,
		Observer:  logObserver{},
	})
	log.Info().Str("module", "client").Str("self", string(self)).Msg("participant ready")

	// The gateway outlives the mesh loop so the leave sent on shutdown goes out.
	gwCtx, stopGateway := context.WithCancel(context.Background())
	defer stopGateway()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopGateway()
		return coord.Run(ctx)
	})
	g.Go(func() error { return gw.Run(gwCtx, coord.Handle) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Room != "" {
		room, err := domain.ParseRoomID(cfg.Room)
		if err != nil {
			return fmt.Errorf("room: %w", err)
		}
		if err := coord.Join(ctx, room); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	// stdin is the console unless it carries the audio.
	if cfg.Audio.Source != capture.SourceStdin {
		con := &console{ctl: coord, player: player, out: os.Stdout}
		g.Go(func() error {
			err := con.Run(ctx, os.Stdin)
			if errors.Is(err, errQuit) {
				stop()
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
