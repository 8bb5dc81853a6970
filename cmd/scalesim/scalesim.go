package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/fako1024/scalebridge/pkg/mock"
)

type cfg struct {
	addr     string
	weight   float64
	sequence string
	once     bool
	debug    bool
}

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {

	// Parse command line options
	var c cfg

	flag.StringVar(&c.addr, "addr", "127.0.0.1:4001", "Address to listen on")
	flag.Float64Var(&c.weight, "weight", 0, "Constant weight to report (in kg)")
	flag.StringVar(&c.sequence, "sequence", "", "Scenario to play, e.g. \"0:3s,12.345:5s,ES:1s,silent:2s\" (overrides -weight)")
	flag.BoolVar(&c.once, "once", false, "Play the scenario only once and keep serving its last step")
	flag.BoolVar(&c.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if c.debug {
		log.SetLevel(logrus.DebugLevel)
	}

	sim, err := mock.New(mock.WithListenAddr(c.addr), mock.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		log.Infof("Served %d weight queries in %v", sim.Requests(), sim.Uptime())
		if err := sim.Close(); err != nil {
			log.Warnf("Failed to close simulator: %s", err)
		}
	}()
	sim.SetWeight(c.weight)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("Simulating scale on %s", sim.Addr())

	if c.sequence != "" {
		steps, err := mock.ParseSequence(c.sequence)
		if err != nil {
			return err
		}
		if err := sim.Play(ctx, steps, !c.once); err != nil && ctx.Err() == nil {
			return err
		}
	}

	<-ctx.Done()
	log.Infof("Got signal, terminating simulator")

	return nil
}
