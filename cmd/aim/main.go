// Command aim runs the aiming process: it consumes target estimates from
// the bus and drives the carriage over the serial link, closed-loop while
// the target is locked and open-loop otherwise.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dronefence/turret/internal/aim"
	"github.com/dronefence/turret/internal/carriage"
	"github.com/dronefence/turret/internal/config"
	"github.com/dronefence/turret/internal/targetbus"
	"github.com/dronefence/turret/internal/timeutil"
	"github.com/dronefence/turret/internal/track"
	"github.com/dronefence/turret/internal/uart"
	"github.com/dronefence/turret/internal/webmon"
)

var (
	configPath = flag.String("config", "turret.json", "Path to the configuration file")
	plotPath   = flag.String("plot", "aim_telemetry.png", "Telemetry plot written on shutdown (empty to disable)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := carriage.OpenStore(cfg.GetStorePath())
	if err != nil {
		log.Fatalf("failed to open carriage store: %v", err)
	}
	defer store.Close()

	x, y, ok, err := store.LoadPosition()
	if err != nil {
		log.Fatalf("failed to load carriage position: %v", err)
	}
	if !ok {
		log.Print("no persisted carriage position, assuming 0/0")
	}
	limits, err := store.LoadLimits()
	if err != nil {
		log.Fatalf("failed to load axis limits: %v", err)
	}

	driver, err := uart.Open(cfg.GetSerialDevice(), uart.PortOptions{BaudRate: cfg.GetBaudRate()}, uart.Blocking)
	if err != nil {
		log.Fatalf("failed to open serial link %s: %v", cfg.GetSerialDevice(), err)
	}
	defer driver.Close()

	car := carriage.New(driver, limits, x, y)
	// Hardware is the source of truth when it answers.
	x, y = car.Position()
	log.Printf("carriage at x=%.1f y=%.1f", x, y)

	sub, err := targetbus.NewSubscriber(cfg.GetListenAddr())
	if err != nil {
		log.Fatalf("failed to bind target bus listener: %v", err)
	}
	sub.Start(ctx)
	defer sub.Close()

	controller := aim.New(cfg, sub, car, timeutil.RealClock{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		controller.Run(ctx)
	}()

	mon := webmon.NewServer(webmon.Options{
		Target: func() (track.Wire, bool) {
			wire, _, ok := sub.Latest()
			return wire, ok
		},
		State:     func() string { return controller.Mode().String() },
		Position:  car.Position,
		Telemetry: controller.Telemetry(),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mon.ListenAndServe(ctx, cfg.GetMonitorAddr()); err != nil {
			log.Printf("monitor server failed: %v", err)
		}
	}()

	wg.Wait()

	finalX, finalY := car.Position()
	if err := store.SavePosition(finalX, finalY); err != nil {
		log.Printf("failed to persist carriage position: %v", err)
	} else {
		log.Printf("persisted carriage position x=%.1f y=%.1f", finalX, finalY)
	}

	if summary := controller.Telemetry().Summarize(); summary.Samples > 0 {
		log.Printf("closed-loop session: %d samples, mean error x=%.2f y=%.2f (std x=%.2f y=%.2f)",
			summary.Samples, summary.MeanErrX, summary.MeanErrY, summary.StdErrX, summary.StdErrY)
	}

	if *plotPath != "" {
		if err := controller.Telemetry().WritePlot(*plotPath); err != nil {
			log.Printf("no telemetry plot written: %v", err)
		} else {
			log.Printf("telemetry plot written to %s", *plotPath)
		}
	}

	log.Print("aiming stopped")
}
