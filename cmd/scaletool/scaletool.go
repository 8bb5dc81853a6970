package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fako1024/scalebridge/pkg/config"
	"github.com/fako1024/scalebridge/pkg/mettler"
	"github.com/fako1024/scalebridge/pkg/scale"
	"github.com/fako1024/scalebridge/pkg/stabilizer"
)

type cfg struct {
	host    string
	port    int
	timeout string

	watch    bool
	interval string
	debug    bool
}

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {

	_ = godotenv.Load()

	// Parse command line options
	var c cfg

	port, _ := strconv.Atoi(os.Getenv("SCALE_PORT"))
	flag.StringVar(&c.host, "host", os.Getenv("SCALE_HOST"), "Host / IP of the scale (default: $SCALE_HOST)")
	flag.IntVar(&c.port, "port", port, "TCP port of the scale (default: $SCALE_PORT)")
	flag.StringVar(&c.timeout, "timeout", "3s", "Timeout of a single weight query")

	flag.BoolVar(&c.watch, "watch", false, "Continuously poll the scale and print stable weights")
	flag.StringVar(&c.interval, "interval", "1s", "Poll interval in watch mode")
	flag.BoolVar(&c.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if c.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	timeout, err := config.ParseDuration(c.timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	device, err := mettler.New(c.host, c.port,
		mettler.WithTimeout(timeout),
		mettler.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scale: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.watch {
		interval, err := config.ParseDuration(c.interval)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		return watch(ctx, device, interval)
	}

	kg, err := device.QueryWeight(ctx)
	if err != nil {
		if errors.Is(err, scale.ErrUnstable) {
			fmt.Println("ERROR: Scale stabilization issue")
			return nil
		}
		return fmt.Errorf("failed to read weight from %s: %w", device.Addr(), err)
	}

	fmt.Printf("WEIGHT: %sg\n", scale.FormatWeight(scale.KilogramsToGrams(kg)))

	return nil
}

func watch(ctx context.Context, device scale.Device, interval time.Duration) error {

	sCfg := stabilizer.DefaultConfig()
	sCfg.PollInterval = interval

	engine, err := stabilizer.New(device, sCfg,
		stabilizer.WithLogger(log),
		stabilizer.WithStateChangeHandler(func(status scale.ConnectionStatus) {
			if status.Error != nil {
				log.Warnf("State change: %v (%s)", status.State, status.Error)
				return
			}
			log.Infof("State change: %v", status.State)
		}),
	)
	if err != nil {
		return err
	}

	events, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	log.Infof("Watching scale %s, press Ctrl+C to stop", device.Addr())
	for event := range events {
		fmt.Printf("%s WEIGHT: %s (settled after %v)\n", event.TimeStamp.Format(time.RFC3339), event, event.SettleTime)
	}

	return nil
}
