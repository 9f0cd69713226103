package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"gopher-vod/internal/config"
	"gopher-vod/internal/discovery"
	"gopher-vod/internal/logger"
	"gopher-vod/internal/protocol"
	"gopher-vod/internal/security"
	"gopher-vod/internal/server"
	"gopher-vod/internal/ui"
	"gopher-vod/internal/uploader"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vod-upload [file]",
	Short: "Upload a video to a gopher-vod server",
	Long: `vod-upload sends a video file to the server's upload endpoint with a
live progress bar. Without --url the server is discovered on the LAN.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	config.RegisterClientFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("upload failed")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.Init(configFile); err != nil {
		return err
	}
	cfg, err := config.LoadClient(cmd)
	if err != nil {
		return err
	}
	logger.Setup(os.Stderr, cfg.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := cfg.URL
	if target == "" {
		dctx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
		target, err = discovery.Find(dctx, discovery.DefaultTargets(cfg.DiscoveryPort))
		cancel()
		if err != nil {
			return fmt.Errorf("no --url given and %w", err)
		}
	}

	input := &uploader.PathInput{}
	if len(args) == 1 {
		input.Path = args[0]
	}
	name, size := describe(input)
	term := ui.NewTerminal(os.Stdout, name, size)

	tlsCfg := security.ClientTLSConfig(cfg.Insecure)
	client := &http.Client{Transport: &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
	}}
	transport := uploader.NewHTTPTransport(client)
	transport.ProgressInterval = cfg.ProgressInterval

	ccfg := uploader.DefaultConfig()
	ccfg.Mode = uploader.SuccessMode(cfg.SuccessMode)
	ccfg.RedirectURL = resolve(target, cfg.RedirectURL)
	ccfg.SettleDelay = cfg.SettleDelay

	ctrl := uploader.New(uploader.Elements{
		Form:      uploader.StaticForm{URL: target},
		File:      input,
		Container: term,
		Indicator: term,
		Label:     term,
		Page:      term,
	}, transport, ccfg)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go ctrl.Run(runCtx)

	done, err := ctrl.Submit(runCtx)
	if err != nil {
		return err
	}

	var out uploader.Outcome
	select {
	case o, ok := <-done:
		if !ok {
			return uploader.ErrStopped
		}
		out = o
	case <-ctx.Done():
		return ctx.Err()
	}
	if out.Err != nil {
		return out.Err
	}
	logger.Info().Str("attempt", out.Attempt.String()).Str("url", target).Msg("upload finished")

	if !cfg.Follow {
		return nil
	}
	id := protocol.UploadedID(out.URL)
	if id == "" {
		id = server.Stem(server.SecureFilename(name))
	}
	feed, err := ui.FeedURL(target, id)
	if err != nil {
		return err
	}
	dialer := &websocket.Dialer{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment}
	st, err := ui.Follow(ctx, dialer, feed, os.Stdout)
	if err != nil {
		return err
	}
	if !st.IsReady {
		return errors.New("video is not playable")
	}
	fmt.Fprintf(os.Stdout, "▶️  %s\n", resolve(target, "/watch/"+url.PathEscape(id)))
	return nil
}

func describe(in *uploader.PathInput) (string, int64) {
	f, ok := in.Selected()
	if !ok {
		return in.Path, -1
	}
	return f.Name(), f.Size()
}

// resolve makes ref absolute against the upload URL.
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
