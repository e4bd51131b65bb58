package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/semigate/admin"
	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/internal/util"
	"github.com/jmcleod/semigate/security"
	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
	"github.com/jmcleod/semigate/stats"
	"github.com/jmcleod/semigate/transport"
)

var (
	configPath string
	listenAddr string
	adminAddr  string
	dataDir    string
	forwarder  string
	secure     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the message gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := DefaultConfig()
		if configPath != "" {
			var err error
			if cfg, err = loadConfig(configPath); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("admin") {
			cfg.AdminAddr = adminAddr
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("forwarder") {
			cfg.Forwarder = forwarder
		}
		if cmd.Flags().Changed("secure") {
			cfg.Secure = secure
		}
		return runServe(cfg)
	},
}

func runServe(cfg Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	var (
		sec   *security.Envelope
		certs *security.BoltCertStore
	)
	if cfg.Secure {
		var err error
		certs, err = security.NewBoltCertStoreFromFile(cfg.DataDir+"/certs.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open certificate store: %w", err)
		}
		defer certs.Close()
		if sec, err = buildEnvelope(cfg, certs, logger); err != nil {
			return err
		}
	}

	registry := stats.NewRegistry(
		stats.WithLogger(logger),
		stats.WithReportInterval(cfg.ReportInterval),
	)
	counter := registry.Register("UDP")

	store := session.NewStore(
		session.WithTTL(cfg.SessionTTL),
		session.WithMetaTTL(cfg.MetaSessionTTL),
		session.WithPurgeInterval(cfg.PurgeInterval),
		session.WithLogger(logger),
	)

	codec := semi.BinaryCodec{}
	disp := gateway.NewDispatcher(gateway.DispatcherConfig{
		Codec:     codec,
		Security:  securityOrNil(sec),
		Sender:    transport.NewUDPSender(logger),
		Forwarder: resolveForwarder(cfg.Forwarder, logger),
		Logger:    logger,
	})

	correlator := gateway.NewCorrelator(store, disp,
		gateway.WithPollInterval(cfg.ReceiptPollInterval),
		gateway.WithPendingCapacity(cfg.ReceiptCapacity),
		gateway.WithCorrelatorLogger(logger),
	)

	engineOpts := []gateway.EngineOption{
		gateway.WithServiceRegion(semi.NewServiceRegion(cfg.NWLatitude, cfg.NWLongitude, cfg.SELatitude, cfg.SELongitude)),
		gateway.WithLogger(logger),
		gateway.WithCounter(counter),
		gateway.WithDefaultPublisher(logPublisher(logger)),
		gateway.WithAcceptNotify(correlator.Wake),
	}
	if sec != nil {
		engineOpts = append(engineOpts, gateway.WithSecurity(sec))
	}
	engine := gateway.NewEngine(store, codec, disp, engineOpts...)

	listener, err := transport.NewListener(cfg.ListenAddr, engine, logger)
	if err != nil {
		return err
	}

	adminAPI := admin.New(store, registry, correlator, engine, admin.WithLogger(logger))
	adminServer := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           adminAPI.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	store.Start()
	registry.Start()
	correlator.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() {
		done <- listener.Run(ctx)
	}()
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("admin server failed: %w", err)
			return
		}
		done <- nil
	}()

	logger.Info("gateway started",
		"listen", cfg.ListenAddr,
		"admin", cfg.AdminAddr,
		"secure", cfg.Secure,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-done:
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
	correlator.Stop()
	store.Stop()
	registry.Terminate()
	return runErr
}

// buildEnvelope loads the configured gateway identity, or generates an
// ephemeral one when none is configured.
func buildEnvelope(cfg Config, certs security.CertStore, logger *slog.Logger) (*security.Envelope, error) {
	if cfg.SeedHex == "" && cfg.SecretHex == "" {
		logger.Warn("no gateway identity configured, generating an ephemeral one")
		return security.GenerateEnvelope(certs)
	}
	seed, err := util.HexDecode(cfg.SeedHex)
	if err != nil {
		return nil, fmt.Errorf("decoding seed_hex: %w", err)
	}
	root, err := util.HexDecode(cfg.SecretHex)
	if err != nil {
		return nil, fmt.Errorf("decoding secret_hex: %w", err)
	}
	return security.NewEnvelope(seed, root, certs)
}

// securityOrNil avoids storing a typed nil behind the security interface.
func securityOrNil(sec *security.Envelope) gateway.Security {
	if sec == nil {
		return nil
	}
	return sec
}

// resolveForwarder resolves the forwarder address once at startup. A
// resolution failure disables forwarding for the life of the process;
// replies to forwarded peers then fall back to direct sends.
func resolveForwarder(addr string, logger *slog.Logger) session.Endpoint {
	if addr == "" {
		return session.Endpoint{}
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Error("couldn't resolve forwarder, forwarding disabled", "forwarder", addr, "error", err)
		return session.Endpoint{}
	}
	ap := udpAddr.AddrPort()
	if !ap.IsValid() {
		logger.Error("forwarder resolved to an invalid address, forwarding disabled", "forwarder", addr)
		return session.Endpoint{}
	}
	return session.EndpointFromAddrPort(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), false)
}

// logPublisher is the fallback downstream consumer: delivered payloads are
// logged and acknowledged.
func logPublisher(logger *slog.Logger) gateway.Publisher {
	log := logger.With("component", "log-publisher")
	return gateway.PublisherFunc(func(dialog semi.DialogID, env gateway.PayloadEnvelope) error {
		log.Info("payload delivered",
			"dialog", dialog.String(),
			"session_id", env.SessionID,
			"host", env.Host,
			"port", env.Port,
			"bytes", len(env.Payload),
		)
		return nil
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":46751", "UDP address to listen on")
	serveCmd.Flags().StringVar(&adminAddr, "admin", ":8080", "Admin HTTP address")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serveCmd.Flags().StringVar(&forwarder, "forwarder", "", "Forwarder host:port for non-routable peers")
	serveCmd.Flags().BoolVar(&secure, "secure", false, "Enable the signed/encrypted payload envelope")
}
