package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fako1024/scalebridge/pkg/api"
	"github.com/fako1024/scalebridge/pkg/config"
	"github.com/fako1024/scalebridge/pkg/metrics"
	"github.com/fako1024/scalebridge/pkg/mettler"
	"github.com/fako1024/scalebridge/pkg/mock"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/sink"
	"github.com/fako1024/scalebridge/pkg/sink/arkite"
	"github.com/fako1024/scalebridge/pkg/sink/azumuta"
	"github.com/fako1024/scalebridge/pkg/sink/mqtt"
	"github.com/fako1024/scalebridge/pkg/sink/tulip"
	"github.com/fako1024/scalebridge/pkg/stabilizer"
)

const (
	shutdownTimeout = 5 * time.Second

	// Scenario served by the built-in simulator in mock mode
	mockSequence = "0:3s,12.345:5s,ES:1s,12.345:3s,0:3s,250.5:5s"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scalebridge: %s\n", err)
		os.Exit(1)
	}
}

func run() error {

	// Parse command line options
	var (
		configFile string
		debug      bool
	)
	flag.StringVar(&configFile, "config", "", "path to YAML configuration file (default: $"+config.EnvConfigFile+")")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg.Debug = cfg.Debug || debug

	zlog, err := scale.NewLogger(cfg.Debug, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		_ = zlog.Sync()
	}()
	logger := zlog.Named("scalebridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a device, mock mode runs against the built-in simulator
	if cfg.MockMode && cfg.Scale.Host == "" {
		sim, err := startSimulator(ctx, zlog.Named("simulator"))
		if err != nil {
			return err
		}
		defer sim.Close()
		cfg.Scale.Host, cfg.Scale.Port = sim.Host(), sim.Port()
	}

	device, err := mettler.New(cfg.Scale.Host, cfg.Scale.Port,
		mettler.WithTimeout(cfg.Scale.Timeout),
		mettler.WithLogger(zlog.Named("mettler")),
	)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	monitor := api.NewMonitor(device.Addr(), names...)

	forwarder, err := sink.NewForwarder(sinks,
		sink.WithMetrics(m),
		sink.WithEventHandler(monitor.HandleEvent),
		sink.WithResultHandler(monitor.HandleResult),
		sink.WithLogger(zlog.Named("forwarder")),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := forwarder.Close(); err != nil {
			logger.Warnf("failed to close sinks: %s", err)
		}
	}()

	engine, err := stabilizer.New(device, cfg.Stabilizer,
		stabilizer.WithMetrics(m),
		stabilizer.WithStateChangeHandler(func(status scale.ConnectionStatus) {
			monitor.HandleStateChange(status)
			if status.State == scale.StateDisconnected {
				logger.Warnf("scale %s unreachable: %s", device.Addr(), status.Error)
			} else {
				logger.Infof("scale %s %s", device.Addr(), status.State)
			}
		}),
		stabilizer.WithPollHandler(monitor.HandlePoll),
		stabilizer.WithLogger(zlog.Named("stabilizer")),
	)
	if err != nil {
		return err
	}

	srv := api.New(monitor, api.WithGatherer(reg), api.WithLogger(zlog.Named("api")))
	apiErrs := srv.Start(cfg.APIAddr)

	events, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	logger.Infof("forwarding stable weights from %s to %v", device.Addr(), names)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		forwarder.Run(ctx, events)
	}()

	select {
	case <-ctx.Done():
		logger.Info("got signal, shutting down")
	case err = <-apiErrs:
		logger.Errorf("API server terminated: %s", err)
		stop()
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warnf("failed to shut down API server: %s", serr)
	}

	return err
}

func buildSinks(ctx context.Context, cfg config.Config, zlog *zap.SugaredLogger) ([]sink.Sink, error) {
	if cfg.MockMode {
		return []sink.Sink{sink.NewLog(zlog.Named("mock"))}, nil
	}

	var sinks []sink.Sink
	if cfg.Sinks.ArkiteEnabled() {
		s, err := arkite.New(cfg.Sinks.Arkite, arkite.WithLogger(zlog.Named(arkite.Name)))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.AzumutaEnabled() {
		s, err := azumuta.New(cfg.Sinks.Azumuta, azumuta.WithLogger(zlog.Named(azumuta.Name)))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.TulipEnabled() {
		s, err := tulip.New(cfg.Sinks.Tulip, tulip.WithLogger(zlog.Named(tulip.Name)))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sinks.MQTTEnabled() {
		s, err := mqtt.New(cfg.Sinks.MQTT, mqtt.WithLogger(zlog.Named(mqtt.Name)))
		if err != nil {
			return nil, err
		}
		if err := s.Connect(ctx); err != nil {
			zlog.Warnf("%s, continuing to reconnect in the background", err)
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		return nil, errors.New("no sink configured (set MOCK_MODE=true for a dry run)")
	}

	return sinks, nil
}

func startSimulator(ctx context.Context, logger scale.Logger) (*mock.Mock, error) {
	steps, err := mock.ParseSequence(mockSequence)
	if err != nil {
		return nil, err
	}

	sim, err := mock.New(mock.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	go func() {
		_ = sim.Play(ctx, steps, true)
	}()

	logger.Infof("serving simulated scale on %s", sim.Addr())

	return sim, nil
}
