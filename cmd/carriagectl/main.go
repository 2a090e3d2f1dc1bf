// Command carriagectl is a maintenance tool for the carriage: manual moves,
// status queries, fire control, axis zeroing, and persisting position and
// limits. Run it while the aiming process is stopped; the serial link is
// single-owner.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dronefence/turret/internal/carriage"
	"github.com/dronefence/turret/internal/config"
	"github.com/dronefence/turret/internal/geometry"
	"github.com/dronefence/turret/internal/uart"
)

var (
	configPath = flag.String("config", "turret.json", "Path to the configuration file")

	moveX    = flag.Float64("x", 0, "X distance (with -abs: absolute position)")
	moveY    = flag.Float64("y", 0, "Y distance (with -abs: absolute position)")
	absolute = flag.Bool("abs", false, "Treat -x/-y as an absolute position")
	toStart  = flag.Bool("start", false, "Move to the configured start position")
	status   = flag.Bool("status", false, "Query and print controller status")
	fire     = flag.String("fire", "", "Fire control: on or off")
	zero     = flag.Bool("zero", false, "Zero the X axis at the current position")
	save     = flag.Bool("save", false, "Persist the final position")

	setMinY = flag.String("min-y", "", "Set and persist the Y axis lower limit")
	setMaxY = flag.String("max-y", "", "Set and persist the Y axis upper limit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := carriage.OpenStore(cfg.GetStorePath())
	if err != nil {
		log.Fatalf("failed to open carriage store: %v", err)
	}
	defer store.Close()

	if *setMinY != "" || *setMaxY != "" {
		if err := persistLimits(store); err != nil {
			log.Fatalf("failed to persist limits: %v", err)
		}
	}

	x, y, _, err := store.LoadPosition()
	if err != nil {
		log.Fatalf("failed to load carriage position: %v", err)
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
	car.SetStartPosition(cfg.GetStartX(), cfg.GetStartY())

	if *status {
		tx := driver.Status()
		if !tx.Executed {
			log.Fatal("status query not confirmed")
		}
		for key, value := range uart.ParseStatus(tx) {
			fmt.Printf("%s=%s\n", key, value)
		}
	}

	if *zero {
		tx := driver.ZeroX()
		if !tx.Executed {
			log.Fatal("zero command not confirmed")
		}
		car = carriage.New(driver, limits, 0, y)
		car.SetStartPosition(cfg.GetStartX(), cfg.GetStartY())
		fmt.Println("x axis zeroed")
	}

	switch {
	case *toStart:
		run("move to start", car.MoveToStart())
	case *absolute:
		run(fmt.Sprintf("move to %.1f/%.1f", *moveX, *moveY), car.MoveToAbsolute(*moveX, *moveY))
	case *moveX != 0 || *moveY != 0:
		run(fmt.Sprintf("move by %.1f/%.1f", *moveX, *moveY), car.MoveRelative(*moveX, *moveY))
	}

	switch *fire {
	case "":
	case "on":
		run("fire on", car.Fire(true))
	case "off":
		run("fire off", car.Fire(false))
	default:
		log.Fatalf("invalid -fire value %q, want on or off", *fire)
	}

	finalX, finalY := car.Position()
	fmt.Printf("position x=%.1f (%d steps) y=%.1f\n", finalX, geometry.AngleToSteps(finalX), finalY)

	if *save {
		if err := store.SavePosition(finalX, finalY); err != nil {
			log.Fatalf("failed to persist position: %v", err)
		}
		fmt.Println("position persisted")
	}
}

func run(what string, err error) {
	if err != nil {
		log.Fatalf("%s: %v", what, err)
	}
	fmt.Printf("%s: ok\n", what)
}

func persistLimits(store *carriage.Store) error {
	limits, err := store.LoadLimits()
	if err != nil {
		return err
	}
	if *setMinY != "" {
		v, err := parseLimit(*setMinY)
		if err != nil {
			return err
		}
		limits.MinY = v
	}
	if *setMaxY != "" {
		v, err := parseLimit(*setMaxY)
		if err != nil {
			return err
		}
		limits.MaxY = v
	}
	return store.SaveLimits(limits)
}

// parseLimit accepts a float or "none" to clear the bound.
func parseLimit(s string) (*float64, error) {
	if s == "none" {
		return nil, nil
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		fmt.Fprintf(os.Stderr, "invalid limit %q\n", s)
		return nil, err
	}
	return &v, nil
}
