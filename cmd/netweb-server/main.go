// Package main provides the CLI entry point for the netweb demonstration
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lattice-net/netweb/internal/certutil"
	"github.com/lattice-net/netweb/internal/config"
	"github.com/lattice-net/netweb/internal/logging"
	"github.com/lattice-net/netweb/internal/metrics"
	"github.com/lattice-net/netweb/internal/webserver"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "netweb-server",
		Short:   "netweb - dual-protocol HTTP/WebSocket demonstration server",
		Long:    "netweb-server runs a TLS-sniffing HTTP/WebSocket server over a single listening port, built on the internal/webserver package.",
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	run := runCmd()
	run.GroupID = "start"
	rootCmd.AddCommand(run)

	cert := certCmd()
	cert.GroupID = "admin"
	rootCmd.AddCommand(cert)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server",
		Long:  "Start the HTTP/WebSocket server with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("failed to load config: %w", err)
				}
				fmt.Printf("No config at %s, using defaults\n", configPath)
				cfg = config.Default()
			}

			log := logging.New(cfg.LogLevel, cfg.LogFormat)
			m := metrics.Default()

			srv, err := webserver.NewServer(cfg, m, log)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			registerDemoRoutes(srv)

			if err := srv.Init(cfg.Server.Host, cfg.Server.Port); err != nil {
				return fmt.Errorf("failed to bind listener: %w", err)
			}

			var metricsSrv *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error("metrics server failed", logging.KeyError, err.Error())
					}
				}()
				fmt.Printf("Metrics: http://%s/metrics\n", cfg.Metrics.ListenAddr)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			runErr := make(chan error, 1)
			go func() { runErr <- srv.Run(ctx) }()

			fmt.Printf("Listening on %s\n", srv.Addr())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			case err := <-runErr:
				if err != nil {
					fmt.Printf("Server stopped: %v\n", err)
				}
			}

			cancel()
			if err := srv.Stop(); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
			}
			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				metricsSrv.Shutdown(shutdownCtx)
			}

			fmt.Println("Server stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

// registerDemoRoutes wires a couple of illustrative HTTP routes and an echo
// WebSocket handler, exercising the Router and WSSession callbacks a real
// embedder would register its own handlers through.
func registerDemoRoutes(srv *webserver.Server) {
	router := srv.Router()

	router.Handle(http.MethodGet, "/healthz", func(*webserver.RouteRequest) (*webserver.Response, error) {
		return webserver.StringResponse(http.StatusOK, "application/json", `{"status":"ok"}`), nil
	})

	router.Handle(http.MethodGet, "/api/time", func(*webserver.RouteRequest) (*webserver.Response, error) {
		body := fmt.Sprintf(`{"time":%q}`, time.Now().UTC().Format(time.RFC3339))
		return webserver.StringResponse(http.StatusOK, "application/json", body), nil
	})

	router.Handle(http.MethodGet, "/api/echo", func(rr *webserver.RouteRequest) (*webserver.Response, error) {
		msg, err := rr.RequireQueryParam("msg")
		if err != nil {
			return nil, err
		}
		body := fmt.Sprintf(`{"echo":%q}`, msg)
		return webserver.StringResponse(http.StatusOK, "application/json", body), nil
	})

	srv.OnWSOpen(func(sess *webserver.WSSession, isTLS bool) {
		sess.Send([]byte(`{"event":"welcome"}`), webserver.Text, nil)
	})
	srv.OnWSMessage(func(sess *webserver.WSSession, payload []byte, kind webserver.MessageKind) {
		sess.Send(payload, kind, nil)
	})
}

func certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate management commands",
		Long:  "Generate and inspect the TLS certificates the server and its clients use.",
	}

	cmd.AddCommand(certCACmd())
	cmd.AddCommand(certServerCmd())
	cmd.AddCommand(certClientCmd())
	cmd.AddCommand(certInfoCmd())

	return cmd
}

func certCACmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
	)

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Generate a CA certificate",
		Long:  "Generate a new Certificate Authority certificate and private key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			validFor := time.Duration(validDays) * 24 * time.Hour

			fmt.Printf("Generating CA certificate...\n")
			fmt.Printf("  Common Name: %s\n", commonName)
			fmt.Printf("  Valid for: %d days\n", validDays)

			ca, err := certutil.GenerateCA(commonName, validFor)
			if err != nil {
				return fmt.Errorf("failed to generate CA: %w", err)
			}

			certPath := outDir + "/ca.crt"
			keyPath := outDir + "/ca.key"
			if err := ca.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}

			fmt.Printf("\nCA certificate generated:\n")
			fmt.Printf("  Certificate: %s\n", certPath)
			fmt.Printf("  Private key: %s\n", keyPath)
			fmt.Printf("  Fingerprint: %s\n", ca.Fingerprint())
			fmt.Printf("  Expires: %s\n", ca.Certificate.NotAfter.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "netweb CA", "Common name for the CA")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory for certificate files")
	cmd.Flags().IntVar(&validDays, "days", 365, "Validity period in days")

	return cmd
}

func certServerCmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
		caPath     string
		caKeyPath  string
		dnsNames   string
		ipAddrs    string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Generate a server certificate",
		Long:  "Generate a new server certificate signed by a CA.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := certutil.LoadCert(caPath, caKeyPath)
			if err != nil {
				return fmt.Errorf("failed to load CA: %w", err)
			}

			validFor := time.Duration(validDays) * 24 * time.Hour

			fmt.Printf("Generating server certificate...\n")
			fmt.Printf("  Common Name: %s\n", commonName)
			fmt.Printf("  Valid for: %d days\n", validDays)
			fmt.Printf("  CA: %s\n", ca.Certificate.Subject.CommonName)

			opts := certutil.DefaultServerOptions(commonName)
			opts.ValidFor = validFor
			opts.ParentCert = ca.Certificate
			opts.ParentKey = ca.PrivateKey

			if dnsNames != "" {
				opts.DNSNames = append(opts.DNSNames, strings.Split(dnsNames, ",")...)
			}
			if ipAddrs != "" {
				for _, ip := range strings.Split(ipAddrs, ",") {
					parsed := net.ParseIP(strings.TrimSpace(ip))
					if parsed == nil {
						return fmt.Errorf("invalid IP address: %s", ip)
					}
					opts.IPAddresses = append(opts.IPAddresses, parsed)
				}
			}

			cert, err := certutil.GenerateCert(opts)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}

			certPath := outDir + "/" + commonName + ".crt"
			keyPath := outDir + "/" + commonName + ".key"
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Printf("\nServer certificate generated:\n")
			fmt.Printf("  Certificate: %s\n", certPath)
			fmt.Printf("  Private key: %s\n", keyPath)
			fmt.Printf("  Fingerprint: %s\n", cert.Fingerprint())
			fmt.Printf("  Expires: %s\n", cert.Certificate.NotAfter.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "", "Common name for the certificate (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory for certificate files")
	cmd.Flags().IntVar(&validDays, "days", 90, "Validity period in days")
	cmd.Flags().StringVar(&caPath, "ca", "./certs/ca.crt", "Path to CA certificate")
	cmd.Flags().StringVar(&caKeyPath, "ca-key", "./certs/ca.key", "Path to CA private key")
	cmd.Flags().StringVar(&dnsNames, "dns", "", "Additional DNS names (comma-separated)")
	cmd.Flags().StringVar(&ipAddrs, "ip", "", "Additional IP addresses (comma-separated)")
	_ = cmd.MarkFlagRequired("cn")

	return cmd
}

func certClientCmd() *cobra.Command {
	var (
		commonName string
		outDir     string
		validDays  int
		caPath     string
		caKeyPath  string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Generate a client certificate",
		Long:  "Generate a new client certificate signed by a CA, for mutual-TLS deployments.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := certutil.LoadCert(caPath, caKeyPath)
			if err != nil {
				return fmt.Errorf("failed to load CA: %w", err)
			}

			validFor := time.Duration(validDays) * 24 * time.Hour

			fmt.Printf("Generating client certificate...\n")
			fmt.Printf("  Common Name: %s\n", commonName)
			fmt.Printf("  Valid for: %d days\n", validDays)
			fmt.Printf("  CA: %s\n", ca.Certificate.Subject.CommonName)

			cert, err := certutil.GenerateClientCert(commonName, validFor, ca)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}

			certPath := outDir + "/" + commonName + ".crt"
			keyPath := outDir + "/" + commonName + ".key"
			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Printf("\nClient certificate generated:\n")
			fmt.Printf("  Certificate: %s\n", certPath)
			fmt.Printf("  Private key: %s\n", keyPath)
			fmt.Printf("  Fingerprint: %s\n", cert.Fingerprint())
			fmt.Printf("  Expires: %s\n", cert.Certificate.NotAfter.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "", "Common name for the certificate (required)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "./certs", "Output directory for certificate files")
	cmd.Flags().IntVar(&validDays, "days", 90, "Validity period in days")
	cmd.Flags().StringVar(&caPath, "ca", "./certs/ca.crt", "Path to CA certificate")
	cmd.Flags().StringVar(&caKeyPath, "ca-key", "./certs/ca.key", "Path to CA private key")
	_ = cmd.MarkFlagRequired("cn")

	return cmd
}

func certInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <certificate>",
		Short: "Display certificate information",
		Long:  "Display detailed information about a certificate file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certPath := args[0]

			info, err := certutil.GetCertInfoFromFile(certPath)
			if err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}

			fmt.Printf("Certificate: %s\n\n", certPath)
			fmt.Printf("Subject:      %s\n", info.Subject)
			fmt.Printf("Issuer:       %s\n", info.Issuer)
			fmt.Printf("Serial:       %s\n", info.SerialNumber)
			fmt.Printf("Fingerprint:  %s\n", info.Fingerprint)
			fmt.Printf("Is CA:        %v\n", info.IsCA)
			fmt.Printf("Not Before:   %s\n", info.NotBefore.Format(time.RFC3339))
			fmt.Printf("Not After:    %s\n", info.NotAfter.Format(time.RFC3339))

			now := time.Now()
			switch {
			case now.After(info.NotAfter):
				fmt.Printf("Status:       EXPIRED\n")
			case now.Add(30*24*time.Hour).After(info.NotAfter):
				fmt.Printf("Status:       EXPIRING SOON (%d days left)\n", int(info.NotAfter.Sub(now).Hours()/24))
			default:
				fmt.Printf("Status:       Valid (%d days left)\n", int(info.NotAfter.Sub(now).Hours()/24))
			}

			if len(info.DNSNames) > 0 {
				fmt.Printf("DNS Names:    %s\n", strings.Join(info.DNSNames, ", "))
			}
			if len(info.IPAddresses) > 0 {
				fmt.Printf("IP Addresses: %s\n", strings.Join(info.IPAddresses, ", "))
			}
			return nil
		},
	}

	return cmd
}
