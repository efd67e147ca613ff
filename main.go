package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/nbiot/metrics"
	"i4.energy/across/nbiot/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("apn", "", "Access point name to bind during bring-up")
	flag.Bool("auto-connect", false, "Wait for the modem to attach on its own instead of a full bring-up")
	flag.Uint("local-port", modem.DefaultLocalPort, "Local UDP port of the modem socket")
	flag.Duration("poll-interval", time.Second, "How often datagram streams poll the modem")
	listPorts := flag.Bool("list-ports", false, "List the serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := modem.PortNames()
		if err != nil {
			slog.Error("Failed to list serial ports", "error", err)
			os.Exit(1)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	}

	config, err := LoadConfig(WithDefaults(), WithDotEnv(".env"), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithSignalTimeout(30 * time.Second).
		WithAttachTimeout(30 * time.Second).
		WithAPN(config.APN).
		WithLogger(logger.With("component", "modem")).
		WithObserver(met.ObserveCommand).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting NB-IoT gateway",
		"serial_port", config.SerialPort,
		"baud_rate", config.BaudRate,
		"auto_connect", config.AutoConnect)

	server := &Server{
		Logger:         logger.With("component", "server"),
		Modem:          m,
		UDP:            modem.NewUDPConn(m, config.LocalPort),
		Metrics:        met,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		PollInterval:   config.PollInterval,
		AutoConnect:    config.AutoConnect,
	}

	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: server,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		state, err := server.BringUp(ctx, config.AutoConnect)
		if err != nil {
			// POST /connect can retry
			logger.Error("Bring-up failed", "error", err, "state", state)
			return nil
		}
		logger.Info("Modem attached", "state", state)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Closing HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	exitCode := 0
	if err := g.Wait(); err != nil {
		logger.Error("Gateway stopped with error", "error", err)
		exitCode = 1
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Streams are hijacked connections that Shutdown leaves running
	if err := server.Close(closeCtx); err != nil {
		logger.Warn("Failed to stop datagram streams", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}

	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
