package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"tappump/internal/config"
	"tappump/internal/control"
	"tappump/internal/frame"
	"tappump/internal/logging"
	"tappump/internal/netsetup"
	"tappump/internal/pump"
	"tappump/internal/server"
	"tappump/internal/telemetry"
	"tappump/internal/tunnel"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s [flags] [tap_name read_sock write_sock ip gw mtu]\n\n", os.Args[0])
	flag.PrintDefaults()
}

// applyArgs overlays the positional CLI surface onto the config:
// tap_name, read socket path, write socket path, IPv4 address, gateway,
// MTU. Positional arguments win over the file.
func applyArgs(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) != 6 {
		return fmt.Errorf("expected 6 positional arguments, got %d", len(args))
	}
	cfg.TapName = args[0]
	cfg.ReadSocket = args[1]
	cfg.WriteSocket = args[2]
	cfg.IPv4Address = args[3]
	cfg.IPv4Gateway = args[4]
	mtu, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("invalid mtu %q: %w", args[5], err)
	}
	cfg.MTU = mtu
	return nil
}

func channelSpecs(cfg *config.Config) []tunnel.ChannelSpec {
	specs := make([]tunnel.ChannelSpec, 0, len(cfg.Tunnel.Channels))
	for _, ch := range cfg.Tunnel.Channels {
		specs = append(specs, tunnel.ChannelSpec{
			Name:        ch.Name,
			Proto:       ch.Proto,
			LocalAddr:   ch.LocalAddr,
			BindAddr:    ch.BindAddr,
			ReadHeader:  ch.ReadHeader,
			WriteHeader: ch.WriteHeader,
			ReadSize:    ch.ReadSize,
		})
	}
	return specs
}

func run() error {
	var (
		configPath = flag.String("config", "", "Path to tappump TOML/YAML config file")
	)
	flag.Usage = usage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolved, err := config.ResolveConfigPath(*configPath)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	cfg := config.Default()
	var cm *config.Manager
	if resolved.Source != config.ConfigPathSourceNone {
		provider := config.NewFileConfigProvider(resolved.Path)
		cfg, err = provider.Load(ctx)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cm = config.NewManager(provider, config.ManagerOptions{PollInterval: cfg.Reload.PollInterval})
	}

	if err := applyArgs(cfg, flag.Args()); err != nil {
		flag.Usage()
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cm != nil {
		cm.SetCurrent(cfg)
	}

	logRuntime, err := logging.NewRuntime(cfg.Logging)
	if err != nil {
		return err
	}
	defer logRuntime.Close()
	logger := logRuntime.Logger()

	if cfg.MTU > frame.MaxMTU {
		logger.Warn("mtu exceeds advisory maximum", "mtu", cfg.MTU, "max", frame.MaxMTU)
	}

	logger.Info("starting tappump",
		"tap", cfg.TapName,
		"read_socket", cfg.ReadSocket,
		"write_socket", cfg.WriteSocket,
		"ip", cfg.IPv4Address,
		"gw", cfg.IPv4Gateway,
		"mtu", cfg.MTU,
	)

	// Descriptors first; the pump only consumes them.
	readFD, err := netsetup.BindDatagramSocket(cfg.ReadSocket)
	if err != nil {
		return err
	}
	defer unix.Close(readFD)

	writeFD, err := netsetup.DialDatagramSocket(cfg.WriteSocket)
	if err != nil {
		return err
	}
	defer unix.Close(writeFD)

	tap, tapName, err := netsetup.CreateTAP(cfg.TapName)
	if err != nil {
		return err
	}
	defer tap.Close()
	logger.Info("tap ready", "interface", tapName)

	if err := netsetup.SetInterfaceMTU(tapName, cfg.MTU); err != nil {
		return err
	}
	if cfg.IPv4Address != "" {
		mask := cfg.IPv4Netmask
		if mask == "" {
			mask = "255.255.255.0"
		}
		if err := netsetup.SetInterfaceAddr(tapName, cfg.IPv4Address, mask); err != nil {
			return err
		}
	} else if err := netsetup.SetInterfaceUp(tapName, true); err != nil {
		return err
	}
	if cfg.IPv4Gateway != "" {
		if err := netsetup.AddDefaultRoute(tapName, cfg.IPv4Gateway); err != nil {
			return err
		}
	}

	metrics := telemetry.NewMetricsCollector()
	sup := control.NewSupervisor(ctx, logger)

	p, err := pump.New(pump.Options{
		TapFD:           int(tap.Fd()),
		ReadFD:          readFD,
		WriteFD:         writeFD,
		WriteSocketPath: cfg.WriteSocket,
		MTU:             cfg.MTU,
		Stop:            sup.Flag(),
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		return err
	}
	sup.StartDetached("pump", func(context.Context) error { return p.Run() })

	var tunnelServer *server.TCPServer
	if cfg.Tunnel.ServerAddr != "" {
		tc, err := tunnel.NewClient(tunnel.ClientOptions{
			ServerAddr:  cfg.Tunnel.ServerAddr,
			AuthToken:   cfg.Tunnel.AuthToken,
			Channels:    channelSpecs(cfg),
			DialTimeout: cfg.Tunnel.DialTimeout,
			Stop:        sup.Flag(),
			Logger:      logger,
			Metrics:     metrics,
		})
		if err != nil {
			return err
		}
		sup.StartDetached("tunnel-client", tc.Run)
	}
	if cfg.Tunnel.ListenAddr != "" {
		ts := tunnel.NewServer(tunnel.ServerOptions{
			AuthToken: cfg.Tunnel.AuthToken,
			Channels:  channelSpecs(cfg),
			Stop:      sup.Flag(),
			Logger:    logger,
			Metrics:   metrics,
		})
		tunnelServer = server.NewTCPServer(cfg.Tunnel.ListenAddr, ts, metrics, logger)
		srv := tunnelServer
		sup.StartDetached("tunnel-server", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx)
		})
	}

	if cm != nil {
		cm.Subscribe(func(u config.Update) {
			restart, err := logRuntime.Reconfigure(u.Config.Logging)
			if err != nil {
				logger.Warn("apply logging config", "err", err)
			}
			if restart {
				logger.Warn("logging changes require a restart; keeping current output")
			}
			if len(u.RestartOnly) > 0 {
				logger.Warn("config changes require a restart", "fields", u.RestartOnly)
			}
		})
		if cfg.Reload.Enabled {
			cm.Start(ctx)
		}
	}

	var admin *telemetry.AdminServer
	if cfg.AdminAddr != "" {
		adminOpts := telemetry.AdminServerOptions{
			Addr:       cfg.AdminAddr,
			Metrics:    metrics,
			PumpStatus: p.Status,
			Reload: func(ctx context.Context) error {
				if cm == nil {
					return errors.New("no config file to reload")
				}
				return cm.ReloadNow(ctx)
			},
		}
		if store := logRuntime.Store(); store != nil {
			adminOpts.Logs = store
		}
		if tunnelServer != nil {
			adminOpts.Listening = tunnelServer.IsListening
		}
		admin = telemetry.NewAdminServer(adminOpts)
		go func() {
			if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server error", "err", err)
				stop()
			}
		}()
	}

	// The supervisor context ends on the first worker failure as well
	// as on SIGINT/SIGTERM.
	<-sup.Context().Done()
	logger.Info("shutting down")
	sup.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", "err", err)
		}
	}
	if tunnelServer != nil {
		if err := tunnelServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tunnel server shutdown", "err", err)
		}
	}

	if err := sup.Wait(); err != nil {
		return err
	}
	fmt.Println("tappump exited")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("tappump: %v", err)
	}
}
