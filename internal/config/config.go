// Package config loads server and client settings. Values come from, in
// order of precedence: explicitly set CLI flags, VOD_* environment
// variables, an optional config file, and flag defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const EnvPrefix = "VOD"

// ServerConfig holds everything cmd/web needs.
type ServerConfig struct {
	Addr           string
	UploadsDir     string
	VideosDir      string
	StaticDir      string
	FFmpegBin      string
	Workers        int
	MaxUploadBytes int64
	Extensions     []string
	LogLevel       string

	UploadsPerMinute float64
	UploadBurst      int

	// TLS with a generated self-signed certificate, unless files are given.
	TLS      bool
	CertFile string
	KeyFile  string

	Discovery     bool
	DiscoveryPort int
	AdvertiseURL  string

	S3 S3Config
}

// S3Config enables the object publisher when Bucket is set.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// ClientConfig holds everything cmd/client needs.
type ClientConfig struct {
	URL              string
	SuccessMode      string
	RedirectURL      string
	SettleDelay      time.Duration
	ProgressInterval time.Duration
	Insecure         bool
	DiscoveryPort    int
	DiscoveryTimeout time.Duration
	Follow           bool
	LogLevel         string
}

// Init wires viper to the environment and, when path is non-empty, reads
// the config file at path.
func Init(path string) error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// LoadServer reads the server settings registered on cmd.
func LoadServer(cmd *cobra.Command) (ServerConfig, error) {
	f := NewFlagLoader(cmd)
	cfg := ServerConfig{
		Addr:           f.String("addr"),
		UploadsDir:     f.String("uploads_dir"),
		VideosDir:      f.String("videos_dir"),
		StaticDir:      f.String("static_dir"),
		FFmpegBin:      f.String("ffmpeg"),
		Workers:        f.Int("workers"),
		MaxUploadBytes: f.Int64("max_upload_bytes"),
		Extensions:     splitList(f.StringSlice("extensions")),
		LogLevel:       f.String("log_level"),

		UploadsPerMinute: f.Float64("uploads_per_minute"),
		UploadBurst:      f.Int("upload_burst"),

		TLS:            f.Bool("tls"),
		CertFile:       f.String("cert_file"),
		KeyFile:        f.String("key_file"),
		Discovery:      f.Bool("discovery"),
		DiscoveryPort:  f.Int("discovery_port"),
		AdvertiseURL:   f.String("advertise_url"),
		S3: S3Config{
			Bucket:    f.String("s3.bucket"),
			Prefix:    f.String("s3.prefix"),
			Region:    f.String("s3.region"),
			Endpoint:  f.String("s3.endpoint"),
			AccessKey: f.String("s3.access_key"),
			SecretKey: f.String("s3.secret_key"),
		},
	}
	return cfg, cfg.Validate()
}

// splitList flattens comma separated entries, as env values arrive as a
// single string.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.UploadsDir == "" || c.VideosDir == "" {
		return fmt.Errorf("uploads_dir and videos_dir are required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("at least one extension must be allowed")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	return nil
}

// LoadClient reads the client settings registered on cmd.
func LoadClient(cmd *cobra.Command) (ClientConfig, error) {
	f := NewFlagLoader(cmd)
	cfg := ClientConfig{
		URL:              f.String("url"),
		SuccessMode:      f.String("on_success"),
		RedirectURL:      f.String("redirect_url"),
		SettleDelay:      f.Duration("settle_delay"),
		ProgressInterval: f.Duration("progress_interval"),
		Insecure:         f.Bool("insecure"),
		DiscoveryPort:    f.Int("discovery_port"),
		DiscoveryTimeout: f.Duration("discovery_timeout"),
		Follow:           f.Bool("follow"),
		LogLevel:         f.String("log_level"),
	}
	switch cfg.SuccessMode {
	case "inline-message", "redirect":
	default:
		return cfg, fmt.Errorf("on_success must be inline-message or redirect, got %q", cfg.SuccessMode)
	}
	return cfg, nil
}
