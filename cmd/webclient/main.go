//go:build js && wasm

// Command webclient is the browser front-end of the upload page, built with
// GOOS=js GOARCH=wasm into static/upload.wasm.
package main

import (
	"context"
	"errors"
	"os"
	"syscall/js"

	"gopher-vod/internal/logger"
	"gopher-vod/internal/uploader"
)

func main() {
	logger.Setup(os.Stdout, "info", false)

	els := bindElements()
	ctrl := uploader.New(els, xhrTransport{}, uploader.DefaultConfig())
	if !ctrl.Enabled() {
		logger.Debug().Msg("no upload form on this page")
		return
	}

	ctx := context.Background()
	go ctrl.Run(ctx)

	onSubmit := js.FuncOf(func(this js.Value, args []js.Value) any {
		args[0].Call("preventDefault")
		go func() {
			done, err := ctrl.Submit(ctx)
			if err != nil {
				if !errors.Is(err, uploader.ErrNoFile) {
					logger.Warn().Err(err).Msg("submit ignored")
				}
				return
			}
			<-done
		}()
		return nil
	})
	byID("upload-form").Call("addEventListener", "submit", onSubmit)

	select {}
}
