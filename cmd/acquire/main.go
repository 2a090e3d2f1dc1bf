// Command acquire runs the target acquisition process: it scans the
// configured cameras, owns the target estimate lifecycle, and publishes
// updates on the target bus for the aiming process.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dronefence/turret/internal/config"
	"github.com/dronefence/turret/internal/machine"
	"github.com/dronefence/turret/internal/targetbus"
	"github.com/dronefence/turret/internal/timeutil"
	"github.com/dronefence/turret/internal/track"
	"github.com/dronefence/turret/internal/vision"
	"github.com/dronefence/turret/internal/webmon"
)

var (
	configPath = flag.String("config", "turret.json", "Path to the configuration file")
	monitor    = flag.String("monitor", "127.0.0.1:8081", "Monitoring listen address (empty to disable)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Cameras) == 0 {
		log.Fatal("no cameras configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, err := vision.OpenNetDetector(cfg.GetModelPath())
	if err != nil {
		log.Fatalf("failed to load detection model: %v", err)
	}
	defer detector.Close()

	scanners := make([]vision.Scanner, 0, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		capture, err := vision.OpenCapture(cam.Stream)
		if err != nil {
			log.Fatalf("failed to open camera %d (%s): %v", i, cam.Stream, err)
		}
		capture.Start(ctx)
		scanners = append(scanners, vision.NewCameraScanner(capture, detector))
	}
	defer func() {
		for i, s := range scanners {
			if err := s.Close(); err != nil {
				log.Printf("failed to close camera %d: %v", i, err)
			}
		}
	}()

	pub, err := targetbus.NewPublisher(cfg.GetBusConsumers())
	if err != nil {
		log.Fatalf("failed to create target bus publisher: %v", err)
	}
	pub.Start(ctx)
	defer pub.Close()

	m := machine.New(cfg, scanners, pub, timeutil.RealClock{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx)
	}()

	if *monitor != "" {
		mon := webmon.NewServer(webmon.Options{
			Target: func() (track.Wire, bool) { return m.Target() },
			State:  func() string { return m.State().String() },
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.ListenAndServe(ctx, *monitor); err != nil {
				log.Printf("monitor server failed: %v", err)
			}
		}()
	}

	wg.Wait()
	log.Print("acquisition stopped")
}
