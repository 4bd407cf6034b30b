// cmd/mbotmon/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashajkofci/gombot"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file")
	portName := flag.String("port", "", "serial port name, overrides the config")
	flag.Parse()

	// --------------------
	// Load + validate config
	// --------------------

	cfg := gombot.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := gombot.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = loaded
	}
	if *portName != "" {
		cfg.Serial.Port = *portName
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	monitorCfg, err := cfg.Monitor.Options()
	if err != nil {
		log.Fatalf("monitor config failed: %v", err)
	}

	// --------------------
	// Link + monitor
	// --------------------

	transport, err := gombot.OpenPort(cfg.Serial)
	if err != nil {
		log.Fatalf("open port failed: %v", err)
	}

	link := gombot.NewLink(transport, gombot.SerialDialer(cfg.Serial), cfg.Link.Options())
	defer link.Close()

	monitor, err := gombot.NewMonitor(link, monitorCfg)
	if err != nil {
		log.Fatalf("monitor build failed: %v", err)
	}
	link.SetHandler(monitor)

	monitor.Events.SubscribeAll(printEvent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := link.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("link stopped: %v", err)
			stop()
		}
	}()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("monitor start failed: %v", err)
	}
	<-ctx.Done()
	monitor.Stop()

	r := monitor.Snapshot()
	fmt.Printf("Last values: ultrasonic=%.2f lightness=%.2f line_follower=%+v\n",
		r.Ultrasonic, r.Lightness, r.LineFollower)
}

func printEvent(ev gombot.Event) {
	switch e := ev.(type) {
	case gombot.UltrasonicEvent:
		fmt.Printf("%s: %.2f cm (port %d)\n", e.Type(), e.Value, e.Port)
	case gombot.LightnessEvent:
		fmt.Printf("%s: %.2f (port %d)\n", e.Type(), e.Value, e.Port)
	case gombot.LineFollowerEvent:
		fmt.Printf("%s: left=%t right=%t (port %d)\n", e.Type(), e.State.Left, e.State.Right, e.Port)
	}
}
