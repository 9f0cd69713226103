package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"gopher-vod/internal/protocol"
)

// FlagLoader returns a CLI flag value when the flag was explicitly set and
// falls back to viper (env > config file > default) otherwise.
type FlagLoader struct {
	cmd *cobra.Command
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

func (f *FlagLoader) changed(name string) bool {
	fl := f.cmd.Flags().Lookup(name)
	return fl != nil && fl.Changed
}

func (f *FlagLoader) String(name string) string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetString(name)
		return val
	}
	return viper.GetString(name)
}

func (f *FlagLoader) Int(name string) int {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetInt(name)
		return val
	}
	return viper.GetInt(name)
}

func (f *FlagLoader) Int64(name string) int64 {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetInt64(name)
		return val
	}
	return viper.GetInt64(name)
}

func (f *FlagLoader) Float64(name string) float64 {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetFloat64(name)
		return val
	}
	return viper.GetFloat64(name)
}

func (f *FlagLoader) Bool(name string) bool {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetBool(name)
		return val
	}
	return viper.GetBool(name)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetDuration(name)
		return val
	}
	return viper.GetDuration(name)
}

func (f *FlagLoader) StringSlice(name string) []string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetStringSlice(name)
		return val
	}
	return viper.GetStringSlice(name)
}

// RegisterServerFlags declares the server flags with their defaults and
// binds them to viper.
func RegisterServerFlags(f *pflag.FlagSet) {
	f.String("addr", protocol.DefaultHTTPAddr, "Address to listen on (host:port)")
	f.String("uploads_dir", "uploads", "Directory for received uploads")
	f.String("videos_dir", "videos", "Directory for transcoded videos")
	f.String("static_dir", "static", "Directory served under /static/ (wasm_exec.js, upload.wasm)")
	f.String("ffmpeg", "ffmpeg", "ffmpeg binary")
	f.Int("workers", 1, "Concurrent transcode jobs")
	f.Int64("max_upload_bytes", 4<<30, "Largest accepted upload in bytes (0 = unlimited)")
	f.StringSlice("extensions", protocol.DefaultExtensions, "Accepted file extensions")
	f.String("log_level", "info", "Log level (debug, info, warn, error)")
	f.Float64("uploads_per_minute", 0, "Uploads accepted per client address per minute (0 = unlimited)")
	f.Int("upload_burst", 3, "Uploads a client may send back to back before the rate limit applies")

	f.Bool("tls", false, "Serve HTTPS")
	f.String("cert_file", "", "Path to TLS certificate file (self-signed when empty)")
	f.String("key_file", "", "Path to TLS key file")

	f.Bool("discovery", true, "Answer UDP discovery probes")
	f.Int("discovery_port", protocol.DiscoveryPort, "UDP discovery port")
	f.String("advertise_url", "", "Upload URL announced to clients (derived from the local IP when empty)")

	f.String("s3.bucket", "", "Publish finished videos to this S3 bucket")
	f.String("s3.prefix", "", "Key prefix inside the bucket")
	f.String("s3.region", "", "S3 region")
	f.String("s3.endpoint", "", "S3-compatible endpoint URL")
	f.String("s3.access_key", "", "S3 access key")
	f.String("s3.secret_key", "", "S3 secret key")

	viper.BindPFlags(f)
}

// RegisterClientFlags declares the upload client flags with their defaults
// and binds them to viper.
func RegisterClientFlags(f *pflag.FlagSet) {
	f.String("url", "", "Upload URL (discovered on the LAN when empty)")
	f.String("on_success", "inline-message", "What a successful upload does: inline-message or redirect")
	f.String("redirect_url", protocol.RouteVideos, "Listing page used by --on_success=redirect")
	f.Duration("settle_delay", 400*time.Millisecond, "Time 100% stays visible before the success message")
	f.Duration("progress_interval", 100*time.Millisecond, "Minimum time between progress updates")
	f.Bool("insecure", false, "Accept self-signed server certificates")
	f.Int("discovery_port", protocol.DiscoveryPort, "UDP discovery port")
	f.Duration("discovery_timeout", 3*time.Second, "How long to wait for a discovery answer")
	f.Bool("follow", false, "Follow transcoding status after the upload")
	f.String("log_level", "warn", "Log level (debug, info, warn, error)")

	viper.BindPFlags(f)
}
