package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"reel/internal/reel"
)

// fileConfig is the optional TOML configuration. Flags override the file.
type fileConfig struct {
	Listen    string      `toml:"listen"`
	DataDir   string      `toml:"data_dir"`
	ChunkSize int64       `toml:"chunk_size"`
	TLSListen string      `toml:"tls_listen"`
	TLSCert   string      `toml:"tls_cert"`
	TLSKey    string      `toml:"tls_key"`
	Minio     minioConfig `toml:"minio"`
}

// minioConfig selects the S3-backed chunk engine when an endpoint is set;
// otherwise chunks live on the local filesystem under data_dir.
type minioConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

func loadConfig(path string) (fileConfig, error) {
	cfg := fileConfig{
		Listen:    "8080",
		DataDir:   "./data",
		TLSListen: "8443",
	}

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to load config file %q: %w", path, err)
	}
	return cfg, nil
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", "", "HTTP listen port (overrides config file)")
	dataDir := flag.String("data-dir", "", "directory for metadata and chunk data (overrides config file)")
	configPath := flag.String("config", "", "path to a TOML config file")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	serverCfg := reel.Config{
		DataDir:   absDataDir,
		ChunkSize: cfg.ChunkSize,
	}

	if cfg.Minio.Endpoint != "" {
		engine, err := reel.NewMinioChunkStorage(ctx, reel.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect chunk engine: %w", err)
		}
		serverCfg.Engine = engine
		slog.Info("Using S3 chunk engine", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	server, err := reel.NewServer(ctx, serverCfg)
	if err != nil {
		return fmt.Errorf("failed to create reel server: %w", err)
	}

	defer server.Close()

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Listen),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              fmt.Sprintf(":%s", cfg.TLSListen),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(ctx)
	})

	eg.Go(func() error {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Reel HTTPS server", "port", cfg.TLSListen)
		err := httpsServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Reel HTTP server", "port", cfg.Listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Reel started", "data_dir", absDataDir)
	return eg.Wait()
}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Reel exited with error", "error", err)
	}
}
