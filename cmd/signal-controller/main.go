// Command signal-controller runs the adaptive signal controller for one
// intersection: it reads vehicle counts, arbitrates green time, drives the
// lamps and serves status over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/signal-controller/internal/clock"
	"github.com/sweeney/signal-controller/internal/config"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/gpio"
	"github.com/sweeney/signal-controller/internal/logic"
	"github.com/sweeney/signal-controller/internal/mqtt"
	"github.com/sweeney/signal-controller/internal/perception"
	"github.com/sweeney/signal-controller/internal/status"
	"github.com/sweeney/signal-controller/internal/web"
)

var (
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}

	log = logrus.WithField("module", "main")
)

// options are the process flags that are not part of the config file.
type options struct {
	configPath  string
	logLevel    string
	printConfig bool
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "signal-controller: %v\n", err)
		os.Exit(2)
	}
	if err := setupLogging(opts.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "signal-controller: %v\n", err)
		os.Exit(2)
	}
	if opts.printConfig {
		if err := printConfig(os.Stdout, cfg); err != nil {
			log.Fatalf("print config: %v", err)
		}
		return
	}
	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// parseFlags loads the config file named by -config and applies any flags
// that were set explicitly on top of it.
func parseFlags(args []string) (config.Config, options, error) {
	fs := flag.NewFlagSet("signal-controller", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (empty for built-in defaults)")
	fs.StringVar(&opts.logLevel, "log.level", "info", "log level (trace debug info warn error critical off)")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")
	broker := fs.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := fs.String("http", "", "HTTP status address (overrides config)")
	serialPath := fs.String("serial", "", "loop detector serial device (overrides config)")
	heartbeat := fs.Duration("heartbeat", 0, "heartbeat interval, 0 disables (overrides config)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, opts, err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, opts, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.MQTT.Broker = *broker
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "serial":
			cfg.Serial.Path = *serialPath
		case "heartbeat":
			cfg.Heartbeat = *heartbeat
		}
	})
	if err := cfg.Validate(); err != nil {
		return cfg, opts, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, opts, nil
}

func setupLogging(level string) error {
	lvl, ok := logLevels[level]
	if !ok {
		return fmt.Errorf("log.level must be one of trace debug info warn error critical off, got %q", level)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.0000",
	})
	logrus.SetLevel(lvl)
	return nil
}

func printConfig(w io.Writer, cfg config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func statusConfig(cfg config.Config) status.Config {
	cc := cfg.ControllerConfig()
	return status.Config{
		Intersection: cfg.Intersection.ID,
		Lanes:        cc.Lanes.Strings(),
		TickMs:       cc.Tick.Milliseconds(),
		YellowMs:     cc.Yellow.Milliseconds(),
		MinGreenMs:   cc.MinGreen.Milliseconds(),
		MaxGreenMs:   cc.MaxGreen.Milliseconds(),
		OverrideMs:   cc.OverrideDuration.Milliseconds(),
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		RadiusMeters: cc.ActivationRadius,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
	}
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lanes := cfg.LaneSet()
	store := perception.NewStore(lanes)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	hub := web.NewHub(0)
	sinks := []controller.Sink{tracker, hub}

	// Lamps
	if cfg.GPIO.Enabled {
		head, err := gpio.NewRealHead(cfg.GPIO.Chip, lanes, cfg.Layout())
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer func() {
			if err := head.Close(); err != nil {
				log.Warnf("close gpio: %v", err)
			}
		}()
		sinks = append(sinks, gpio.NewSink(head))
	}

	// MQTT
	var publisher mqtt.Publisher = noopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	var subscriber mqtt.Subscriber
	topics := mqtt.NewTopics(cfg.TopicBase())
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			Topics:             topics,
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus, subscriber = p, p, p
		sinks = append(sinks, mqtt.NewSink(p))
	} else {
		log.Info("mqtt disabled: no broker configured")
	}

	ctrl, err := controller.New(cfg.ControllerConfig(), store, controller.Fanout(sinks...), clock.Real{})
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	if subscriber != nil {
		if err := subscribe(subscriber, topics, store, ctrl); err != nil {
			return err
		}
	}

	// Loop detector
	if cfg.Serial.Path != "" {
		port, err := perception.OpenSerial(cfg.Serial.Path, cfg.Serial.PortOptions)
		if err != nil {
			return fmt.Errorf("open serial: %w", err)
		}
		defer monitorSerial(ctx, store, port)()
	}

	publishLifecycle(publisher, tracker, "STARTUP", "")

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Infof("started: intersection=%s lanes=%v broker=%s heartbeat=%v",
		cfg.Intersection.ID, lanes.Strings(), cfg.MQTT.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Timing.Tick)
	defer ticker.Stop()
	hbTicker := time.NewTicker(time.Second)
	defer hbTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	hb := logic.NewHeartbeat(cfg.Heartbeat, time.Now())
	return runLoop(ctx, ctrl, publisher, mqttStatus, tracker, hb, time.Now, ticker.C, hbTicker.C, sigCh)
}

// subscribe routes inbound count samples to the store and operator commands
// to the controller.
func subscribe(sub mqtt.Subscriber, topics mqtt.Topics, store *perception.Store, ctrl mqtt.ManualChanger) error {
	if err := sub.Subscribe(topics.Counts, store.HandlePayload); err != nil {
		return fmt.Errorf("subscribe %s: %w", topics.Counts, err)
	}
	if err := sub.Subscribe(topics.Command, mqtt.CommandHandler(ctrl)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topics.Command, err)
	}
	return nil
}

// monitorSerial feeds store from port until the returned stop is called.
// stop cancels the monitor before closing the port, so only a read failure
// while running is reported.
func monitorSerial(ctx context.Context, store *perception.Store, port io.ReadCloser) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := store.Monitor(ctx, port); err != nil && ctx.Err() == nil {
			log.Errorf("serial monitor: %v", err)
		}
	}()
	return func() {
		cancel()
		if err := port.Close(); err != nil {
			log.Warnf("close serial: %v", err)
		}
		<-done
	}
}

// runner is the part of *controller.Controller driven by runLoop.
type runner interface {
	Run(ctx context.Context, tick <-chan time.Time) error
}

// runLoop drives ctrl on tick and publishes heartbeats until a signal
// arrives, then stops the controller and publishes SHUTDOWN.
func runLoop(ctx context.Context, ctrl runner, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, hb *logic.Heartbeat, now func() time.Time, tick, hbTick <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx, tick) }()

	for {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			cancel()
			err := <-done
			refreshConnected(tracker, mqttStatus)
			publishLifecycle(publisher, tracker, "SHUTDOWN", signalName(s))
			return err

		case err := <-done:
			refreshConnected(tracker, mqttStatus)
			publishLifecycle(publisher, tracker, "SHUTDOWN", "STOPPED")
			return err

		case <-hbTick:
			data := hb.Check(now())
			if data == nil {
				continue
			}
			refreshConnected(tracker, mqttStatus)
			snap := tracker.Snapshot()
			log.Infof("heartbeat: uptime=%v switches=%d manual=%d overrides=%d",
				data.Uptime.Truncate(time.Second), snap.Counts.Switches, snap.Counts.ManualChanges, snap.Counts.Overrides)
			event := mqtt.SystemEvent{
				Timestamp:  data.Timestamp,
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warnf("heartbeat publish error: %v", err)
			}
		}
	}
}

func publishLifecycle(publisher mqtt.Publisher, tracker *status.Tracker, name, reason string) {
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Warnf("failed to publish %s event: %v", name, err)
		return
	}
	log.Infof("published %s event", name)
}

func refreshConnected(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// noopPublisher stands in when no broker is configured.
type noopPublisher struct{}

func (noopPublisher) Publish(controller.Event) error       { return nil }
func (noopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (noopPublisher) Close() error                         { return nil }
