package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"groundlink/internal/config"
	"groundlink/internal/events"
	"groundlink/internal/link"
	"groundlink/internal/logging"
	"groundlink/internal/model"
	"groundlink/internal/monitor"
	"groundlink/internal/mqttbridge"
	"groundlink/internal/router"
	"groundlink/internal/web"
)

var (
	runConfigPath string
	runLocator    string
	runBaud       int
	runMonitor    bool
	runWeb        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ground station",
	Long:  "run manages the vehicle link and serves the configured front ends until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(runConfigPath)
		if err != nil {
			return err
		}
		if runLocator != "" {
			cfg.Link.Locator = runLocator
		}
		if runBaud > 0 {
			cfg.Link.Baud = runBaud
		}
		if runMonitor {
			cfg.Monitor.Enable = true
		}
		if runWeb {
			cfg.Web.Enable = true
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runGroundlink(ctx, cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to YAML or TOML config")
	runCmd.Flags().StringVar(&runLocator, "locator", "", "Connect to this locator on startup (overrides link.locator)")
	runCmd.Flags().IntVar(&runBaud, "baud", 0, "Serial baud rate (overrides link.baud)")
	runCmd.Flags().BoolVar(&runMonitor, "monitor", false, "Show the terminal monitor")
	runCmd.Flags().BoolVar(&runWeb, "web", false, "Serve the HTTP API (overrides web.enable)")
}

// linkConfig maps the file configuration onto the link manager's.
func linkConfig(cfg config.Config) link.Config {
	lc := link.Config{
		HeartbeatWait:   cfg.Link.HeartbeatWait,
		LivenessTimeout: cfg.Link.LivenessTimeout,
		ReadTimeout:     cfg.Link.ReadTimeout,
		CloseTimeout:    cfg.Link.CloseTimeout,
		BackoffBase:     cfg.Link.BackoffBase,
		MaxAttempts:     cfg.Link.MaxAttempts,
		DefaultBaud:     cfg.Link.Baud,
		StreamGap:       cfg.Link.StreamGap,
		Gate: link.Gate{
			AllowedModes: append([]string(nil), cfg.Commands.AllowedModes...),
			MinAltitudeM: cfg.Commands.MinAltitudeM,
			MaxAltitudeM: cfg.Commands.MaxAltitudeM,
		},
	}
	// nil keeps the defaults; an explicit empty list requests no streams.
	if cfg.Link.StreamIntervals != nil {
		lc.StreamIntervals = make([]link.StreamInterval, 0, len(cfg.Link.StreamIntervals))
		for _, si := range cfg.Link.StreamIntervals {
			lc.StreamIntervals = append(lc.StreamIntervals, link.StreamInterval{Message: si.Message, Interval: si.Interval})
		}
	}
	return lc
}

// mqttCategories are forwarded to the broker when the bridge is enabled.
var mqttCategories = []router.Category{
	events.ConnectionStatusChanged,
	events.CommandResponded,
	events.ConnectionModelChanged,
	events.VehicleModelChanged,
	events.StatusModelChanged,
}

func runGroundlink(ctx context.Context, cfg config.Config) error {
	logBuf := web.NewLogBuffer(cfg.Web.LogLines)
	var out io.Writer = os.Stderr
	if cfg.Monitor.Enable {
		out = nil
	}
	log, err := logging.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, out, logBuf)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx = logging.NewContext(ctx, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := router.New(log.Named("router"), nil)

	conn := model.NewConnectionModel(bus, log.Named("model"), router.OnUI())
	vehicle := model.NewVehicleModel(bus, log.Named("model"), router.OnUI())
	statusLog := model.NewStatusModel(bus, model.DefaultStatusEntries, log.Named("model"), router.OnUI())

	var mon *monitor.Monitor
	loop := router.NewLoop()
	if cfg.Monitor.Enable {
		mon = monitor.New(cfg.Link.Locator, monitor.Actions{
			Connect:     func() { conn.RequestConnect(cfg.Link.Locator, cfg.Link.Baud) },
			Disconnect:  conn.RequestDisconnect,
			ClearStatus: statusLog.Clear,
		}, log.Named("monitor"))
		mon.Attach(bus)
		bus.SetDispatcher(mon)
	} else {
		bus.SetDispatcher(loop)
	}

	dialer := &link.MAVDialer{
		RecordPath:  cfg.Link.RecordPath,
		ReplaySpeed: cfg.Link.Replay.Speed,
		ReplayLoop:  cfg.Link.Replay.Loop,
		Log:         log.Named("mavlink"),
	}
	mgr, err := link.NewManager(linkConfig(cfg), bus, dialer, log.Named("link"))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { mgr.Run(ctx) })
	if mon == nil {
		spawn(func() { loop.Run(ctx) })
	}

	if cfg.MQTT.Enable {
		pub, err := mqttbridge.Connect(mqttbridge.ClientConfig{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			KeepAlive: cfg.MQTT.KeepAlive,
		}, log.Named("mqtt"))
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		bridge := mqttbridge.New(pub, mqttbridge.Options{
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
		}, log.Named("mqtt"))
		bridge.Attach(bus, mqttCategories...)
		spawn(func() { bridge.Run(ctx) })
	}

	if cfg.Web.Enable {
		status := web.NewStatus()
		status.Link = mgr
		status.Connection = conn
		status.Vehicle = vehicle
		status.StatusLog = statusLog

		hub := web.NewHub(log.Named("web"))
		hub.Attach(bus, events.All...)

		srv := &web.Server{
			Status:    status,
			Bus:       bus,
			Hub:       hub,
			Logs:      logBuf,
			StatusLog: statusLog,
			Log:       log.Named("web"),
		}
		spawn(func() {
			if err := web.Serve(ctx, cfg.Web.Listen, srv.Handler(), log.Named("web")); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("web server: %w", err)
				cancel()
			}
		})
	}

	log.Info("groundlink starting",
		zap.String("locator", cfg.Link.Locator),
		zap.Bool("web", cfg.Web.Enable),
		zap.Bool("mqtt", cfg.MQTT.Enable),
		zap.Bool("monitor", cfg.Monitor.Enable))

	if cfg.Link.Locator != "" {
		conn.RequestConnect(cfg.Link.Locator, cfg.Link.Baud)
	}

	if mon != nil {
		if err := mon.Run(ctx); err != nil {
			errCh <- err
		}
		cancel()
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	log.Info("groundlink stopping")

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
