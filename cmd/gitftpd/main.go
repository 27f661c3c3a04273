// gitftpd exposes a GitHub account as a virtual FTP filesystem.
//
// The root directory lists the account's repositories; paths below a
// repository map onto its file tree. Log in with the GitHub username
// and, as password, the alias of a token saved by the credential tool.
package main

import (
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gitftp/gitftp/internal/config"
	"github.com/gitftp/gitftp/internal/credentials"
	"github.com/gitftp/gitftp/internal/ftp"
	"github.com/gitftp/gitftp/internal/logging"
	"github.com/gitftp/gitftp/internal/metrics"
	"github.com/gitftp/gitftp/internal/remote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("gitftp starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("tokens_file", cfg.TokensFile))

	// Metrics endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	store := credentials.NewFileStore(cfg.TokensFile)
	connector := remote.NewConnector(cfg.GitHubBaseURL)
	server := ftp.NewServer(cfg, store, connector)

	// Shut the listener on SIGINT/SIGTERM; open sessions drain on
	// their own idle timeouts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("shutting down", zap.String("signal", sig.String()))
		server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Fatal("server failed", zap.Error(err))
	}
}
