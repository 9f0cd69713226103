package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gopher-vod/internal/config"
	"gopher-vod/internal/discovery"
	"gopher-vod/internal/library"
	"gopher-vod/internal/logger"
	"gopher-vod/internal/metrics"
	"gopher-vod/internal/protocol"
	"gopher-vod/internal/security"
	"gopher-vod/internal/server"
	"gopher-vod/internal/storage"
	"gopher-vod/internal/transcode"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vod-web",
	Short: "Video upload and DASH streaming server",
	Long: `vod-web receives video uploads, transcodes them into a multi-bitrate
DASH package with ffmpeg and serves the library with a dash.js player.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	config.RegisterServerFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("vod-web stopped")
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.Init(configFile); err != nil {
		return err
	}
	cfg, err := config.LoadServer(cmd)
	if err != nil {
		return err
	}
	logger.Setup(os.Stderr, cfg.LogLevel, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, err := library.New(cfg.VideosDir)
	if err != nil {
		return err
	}
	m := metrics.New()
	hub := server.NewHub(lib, m)

	var publisher transcode.Publisher
	if cfg.S3.Enabled() {
		p, err := storage.NewS3Publisher(ctx, cfg.S3)
		if err != nil {
			return err
		}
		publisher = p
		logger.Info().Str("bucket", cfg.S3.Bucket).Str("prefix", cfg.S3.Prefix).Msg("publishing finished videos to s3")
	}

	pool := transcode.NewPool(transcode.PoolConfig{
		Workers:   cfg.Workers,
		Library:   lib,
		Encoder:   transcode.New(cfg.FFmpegBin, transcode.ExecRunner{}),
		Publisher: publisher,
		Metrics:   m,
		OnChange:  hub.Publish,
	})
	pool.Start(ctx)
	if n, err := pool.Resume(); err != nil {
		logger.Warn().Err(err).Msg("cannot resume pending transcodes")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("resumed pending transcodes")
	}

	srv, err := server.New(server.Config{
		Library:        lib,
		Queue:          pool,
		Hub:            hub,
		Metrics:        m,
		UploadsDir:     cfg.UploadsDir,
		StaticDir:      cfg.StaticDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Extensions:     cfg.Extensions,

		UploadsPerMinute: cfg.UploadsPerMinute,
		UploadBurst:      cfg.UploadBurst,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	scheme := "http"
	if cfg.TLS {
		scheme = "https"
		tlsCfg, err := security.ServerTLSConfig(cfg.CertFile, cfg.KeyFile, advertiseHosts(cfg.Addr)...)
		if err != nil {
			return err
		}
		httpSrv.TLSConfig = tlsCfg
	}

	if cfg.Discovery {
		url := cfg.AdvertiseURL
		if url == "" {
			url = uploadURL(scheme, cfg.Addr)
		}
		r := &discovery.Responder{URL: url}
		go func() {
			if err := r.Listen(ctx, cfg.DiscoveryPort); err != nil {
				logger.Warn().Err(err).Msg("discovery disabled")
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("scheme", scheme).Int("workers", cfg.Workers).Msg("server started")
		if cfg.TLS {
			errc <- httpSrv.ListenAndServeTLS("", "")
		} else {
			errc <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			pool.Close()
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	pool.Close()
	return nil
}

// uploadURL is the URL announced over discovery. An unspecified listen host
// is replaced by the first LAN address.
func uploadURL(scheme, addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return scheme + "://" + addr + protocol.RouteUpload
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		if local := discovery.LocalIP(); local != "" {
			host = local
		} else if host == "" {
			host = "0.0.0.0"
		}
	}
	return scheme + "://" + net.JoinHostPort(host, port) + protocol.RouteUpload
}

func advertiseHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1"}
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		hosts = append(hosts, host)
	}
	if local := discovery.LocalIP(); local != "" {
		hosts = append(hosts, local)
	}
	return hosts
}
