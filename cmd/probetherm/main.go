// probetherm is the probe temperature-conditioning host. It manages
// the thermal interface board, executes the g-code command stream
// including the M199 threshold wait, and serves a JSON-RPC API for
// frontends.
//
// Usage:
//
//	probetherm -config printer.cfg [options]
//
// Options:
//
//	-config string    Host configuration file (required)
//	-api string       API listen address (overrides [api] listen)
//	-logfile string   Log file path (default: stderr)
//	-trace            Enable debug logging
//
// Examples:
//
//	# Run against the configured board
//	probetherm -config printer.cfg
//
//	# Custom API port with debug logging
//	probetherm -config printer.cfg -api :7126 -trace
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"probetherm/pkg/api"
	"probetherm/pkg/config"
	"probetherm/pkg/display"
	"probetherm/pkg/gcode"
	"probetherm/pkg/history"
	hostlog "probetherm/pkg/log"
	"probetherm/pkg/mcu"
	"probetherm/pkg/metrics"
	"probetherm/pkg/motion"
	"probetherm/pkg/reactor"
	"probetherm/pkg/safety"
	"probetherm/pkg/telemetry"
	"probetherm/pkg/thermal"
)

func main() {
	configFile := flag.String("config", "", "Host configuration file (required)")
	apiAddr := flag.String("api", "", "API listen address (overrides [api] listen)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	trace := flag.Bool("trace", false, "Enable debug logging")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	// .env first so PROBETHERM_* and MQTT credentials are visible to
	// the logger and config below.
	_ = godotenv.Load()

	hostLogger := hostlog.New("probetherm")
	hostlog.ConfigureFromEnv(hostLogger)
	if *trace {
		hostLogger.SetLevel(hostlog.DEBUG)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
		hostLogger.SetWriter(f)
		hostLogger.SetColorize(false)
	}
	hostlog.SetDefaultLogger(hostLogger)

	log.Println("========================================")
	log.Println("Probetherm Host Starting")
	log.Println("========================================")
	log.Printf("Config: %s", *configFile)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Error parsing config: %v", err)
	}

	r := reactor.New()
	r.Run()
	defer r.End()

	// Optional interface board. Without [mcu] every channel must use
	// a simulated sensor.
	var link thermal.BoardLink
	var board *mcu.Client
	if sec := cfg.GetSectionOptional("mcu"); sec != nil {
		board, err = mcu.Dial(sec)
		if err != nil {
			log.Fatalf("Error connecting to board: %v", err)
		}
		defer board.Close()
		link = board
		log.Printf("Board: %s", board.Device())
	}

	tm, err := thermal.NewManager(cfg, r, link)
	if err != nil {
		log.Fatalf("Error building thermal manager: %v", err)
	}
	ka, err := motion.New(cfg, r)
	if err != nil {
		log.Fatalf("Error building keep-alive: %v", err)
	}
	sm, err := safety.New(cfg)
	if err != nil {
		log.Fatalf("Error building safety manager: %v", err)
	}

	pub, err := telemetry.New(cfg)
	if err != nil {
		log.Fatalf("Error connecting telemetry: %v", err)
	}
	defer pub.Close()

	hist, err := history.Open(cfg)
	if err != nil {
		log.Fatalf("Error opening history store: %v", err)
	}
	defer hist.Close()

	disp, err := display.New(cfg)
	if err != nil {
		log.Fatalf("Error building display: %v", err)
	}
	exec := gcode.NewExecutor(gcode.Deps{
		Reactor:   r,
		Thermal:   tm,
		Display:   disp,
		Motion:    ka,
		Safety:    sm,
		Responder: gcode.NewResponder(nil),
		Telemetry: pub,
		History:   hist,
	})

	// Cross-module wiring: faults latch the safety manager, any
	// shutdown or idle timeout drops every heater, and command
	// activity feeds the safety watchdog through the keep-alive.
	tm.OnFault(sm.ThermalFault)
	sm.OnShutdown(func(reason safety.Reason, message string) {
		tm.TurnOffAll()
	})
	ka.OnIdle(tm.TurnOffAll)
	ka.SetHeartbeat(sm.Heartbeat)

	// The reactor heartbeats the watchdog once a second. A handler
	// that blocks without yielding starves this timer and trips the
	// watchdog.
	r.RegisterTimer(func(eventtime float64) float64 {
		sm.Heartbeat()
		return eventtime + 1.0
	}, reactor.NOW)

	apiListen := *apiAddr
	if apiListen == "" {
		if sec := cfg.GetSectionOptional("api"); sec != nil {
			if apiListen, err = sec.Get("listen", ":7125"); err != nil {
				log.Fatalf("Error reading [api] listen: %v", err)
			}
		}
	}

	metricsListen := ""
	if sec := cfg.GetSectionOptional("metrics"); sec != nil {
		if metricsListen, err = sec.Get("listen", ":9091"); err != nil {
			log.Fatalf("Error reading [metrics] listen: %v", err)
		}
	}

	if err := cfg.CheckUnused(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	tm.Start()
	ka.Start()
	sm.StartWatchdog()

	var apiServer *api.Server
	if apiListen != "" {
		reg := api.NewRegistry()
		reg.RegisterObject("heaters", func(attrs []string) map[string]any {
			return tm.GetStatus(r.Monotonic())
		})
		reg.RegisterObject("probe", func(attrs []string) map[string]any {
			return tm.Probe().GetStatus(r.Monotonic())
		})
		reg.RegisterObject("display", func(attrs []string) map[string]any {
			return disp.GetStatus(r.Monotonic())
		})
		reg.RegisterObject("idle_timeout", func(attrs []string) map[string]any {
			return ka.GetStatus(r.Monotonic())
		})
		reg.RegisterObject("safety", func(attrs []string) map[string]any {
			return sm.GetStatus(r.Monotonic())
		})
		if board != nil {
			reg.RegisterObject("mcu", func(attrs []string) map[string]any {
				return board.GetStatus(r.Monotonic())
			})
		}
		reg.SetScriptRunner(func(line string) error {
			exec.Execute(line)
			return nil
		})
		reg.SetEmergencyStop(func() { sm.EmergencyStop("api") })
		reg.SetStateFunc(func() string { return sm.State().String() })

		apiServer = api.New(api.Config{Addr: apiListen, Backend: reg})
		go func() {
			if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("API server stopped: %v", err)
			}
		}()
	}

	if metricsListen != "" {
		metrics.Register()
		go func() {
			if err := metrics.Serve(metricsListen); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	log.Println("========================================")
	log.Println("Probetherm Host Ready")
	if apiListen != "" {
		log.Printf("API: http://localhost%s", apiListen)
	}
	if metricsListen != "" {
		log.Printf("Metrics: http://localhost%s/metrics", metricsListen)
	}
	log.Println("Press Ctrl+C to stop")
	log.Println("========================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("")
	log.Println("Shutting down...")
	sm.UserRequest("signal")
	if apiServer != nil {
		_ = apiServer.Stop()
	}
	log.Println("Probetherm Host stopped")
}
