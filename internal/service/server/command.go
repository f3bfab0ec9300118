package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcapi "github.com/engfidow/server-door-lock/internal/api/grpc/door"
	httpapi "github.com/engfidow/server-door-lock/internal/api/http/door"
	mqttapi "github.com/engfidow/server-door-lock/internal/api/mqtt/door"
	wsapi "github.com/engfidow/server-door-lock/internal/api/ws/door"
	"github.com/engfidow/server-door-lock/internal/config"
	"github.com/engfidow/server-door-lock/internal/hardware"
	"github.com/engfidow/server-door-lock/internal/logger"
	"github.com/engfidow/server-door-lock/internal/service/broadcast"
	"github.com/engfidow/server-door-lock/internal/service/lock"
	"github.com/engfidow/server-door-lock/internal/version"
)

// Options controls the door-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides the HTTP gateway listen address.
	ListenAddress string
	// GRPCAddress overrides the gRPC listen address.
	GRPCAddress string
	// Detect checks for GPIO hardware; nil uses hardware.DetectGPIO.
	Detect hardware.Detector
	// Ready, when set, receives the bound gateway addresses once every listener is up.
	Ready func(Addresses)
}

// Addresses are the bound listener addresses of a running server.
type Addresses struct {
	// HTTP is the gateway address.
	HTTP string
	// GRPC is the gRPC address, empty when disabled.
	GRPC string
}

// shutdownTimeout bounds draining the HTTP gateway on exit.
const shutdownTimeout = 5 * time.Second

// Run starts the door gateway and blocks until context is canceled or a server fails.
//
//nolint:funlen // Process wiring reads best top to bottom.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "door-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.SetLevelString(settings.LogLevel) {
		logger.WarnKV(ctx, "Unknown log level, keeping default", "log_level", settings.LogLevel)
	}

	httpAddress, grpcAddress := resolveAddresses(settings, opts)

	adapter, err := newAdapter(ctx, settings, opts.Detect)
	if err != nil {
		return err
	}

	machine := lock.New(ctx, adapter, broadcast.New(), lock.Options{
		Pin:        settings.RelayPin,
		Policy:     settings.Lock.Policy,
		AutoRelock: settings.Lock.AutoRelock,
	})
	defer machine.Close()

	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", httpAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", httpAddress, err)
	}

	httpServer := &http.Server{
		Handler: httpapi.NewRouter(machine, httpapi.Options{
			WebSocket: wsapi.NewHandler(ctx, machine, settings.WebSocket),
			Simulated: adapter.Simulated(),
			Version:   version.Short(),
		}),
		ReadHeaderTimeout: settings.Timeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addresses := Addresses{HTTP: httpListener.Addr().String()}

	var (
		grpcServer   *grpc.Server
		grpcListener net.Listener
	)

	if grpcAddress != "" {
		grpcListener, err = lc.Listen(ctx, "tcp", grpcAddress)
		if err != nil {
			_ = httpListener.Close()

			return fmt.Errorf("listen on %s: %w", grpcAddress, err)
		}

		grpcServer = grpc.NewServer()
		grpcapi.Register(grpcServer, grpcapi.NewServer(machine))
		addresses.GRPC = grpcListener.Addr().String()
	}

	if settings.MQTT.Broker != "" {
		bridge, dialErr := mqttapi.Dial(ctx, settings.MQTT, machine)
		if dialErr != nil {
			// The gateway stays useful without the broker.
			logger.ErrorKV(ctx, "MQTT bridge disabled", "error", dialErr)
		} else {
			defer bridge.Close()
		}
	}

	logger.InfoKV(ctx, "Door server listening", append([]any{
		"http_address", addresses.HTTP,
		"grpc_address", addresses.GRPC,
		"relay_pin", settings.RelayPin,
		"simulated", adapter.Simulated(),
		"policy", settings.Lock.Policy,
	}, version.Fields()...)...)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if serveErr := httpServer.Serve(httpListener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", serveErr)
		}

		return nil
	})

	if grpcServer != nil {
		group.Go(func() error {
			if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC: %w", serveErr)
			}

			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down door server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}

		// WebSocket connections are hijacked and end with ctx, not Shutdown.
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("shutdown HTTP: %w", shutdownErr)
		}

		return nil
	})

	if opts.Ready != nil {
		opts.Ready(addresses)
	}

	if err = group.Wait(); err != nil {
		return err
	}

	logger.Info(ctx, "Door server stopped")

	return nil
}

// newAdapter probes for relay hardware and builds the actuation adapter.
func newAdapter(ctx context.Context, settings *config.Config, detect hardware.Detector) (*hardware.Adapter, error) {
	if detect == nil {
		detect = hardware.DetectGPIO
	}

	present, err := hardware.Probe(ctx, settings.Hardware.Presence, settings.RelayPin, detect)
	if err != nil {
		return nil, fmt.Errorf("probe hardware: %w", err)
	}

	drivers, err := hardware.NewDrivers(settings.Hardware, hardware.ExecRunner{})
	if err != nil {
		return nil, fmt.Errorf("build drivers: %w", err)
	}

	if !present {
		logger.Warn(ctx, "No GPIO hardware detected, running in simulated mode")
	}

	return hardware.NewAdapter(drivers,
		hardware.WithSimulated(!present),
		hardware.WithTimeout(settings.Hardware.Timeout),
	), nil
}

// resolveAddresses applies command line overrides to the configured listen addresses.
// A bare port such as "8080" is accepted for the gateway.
func resolveAddresses(settings *config.Config, opts *Options) (string, string) {
	httpAddress := settings.ListenAddress
	if opts.ListenAddress != "" {
		httpAddress = opts.ListenAddress
	}

	if _, err := strconv.Atoi(httpAddress); err == nil {
		httpAddress = ":" + httpAddress
	}

	grpcAddress := settings.GRPCAddress
	if opts.GRPCAddress != "" {
		grpcAddress = opts.GRPCAddress
	}

	return httpAddress, grpcAddress
}
