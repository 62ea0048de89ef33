package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"alfred/internal/overlay"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

var keys = map[string]string{
	"s": overlay.KindStart,
	"x": overlay.KindStop,
	"c": overlay.KindCloseVisual,
}

func main() {
	url := cli.StringP("url", "u", "ws://127.0.0.1:8765"+overlay.Path, "Url of overlay hub")
	reconn := cli.UintP("reconn", "r", 2, "Reconnect interval in seconds")
	logLevel := cli.StringP("log", "l", "warn", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := overlay.NewClient(*url, time.Duration(*reconn)*time.Second)

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			kind, ok := keys[strings.TrimSpace(sc.Text())]
			if !ok {
				fmt.Println("keys: s = start, x = stop, c = close card")
				continue
			}
			if err := client.Send(kind); err != nil {
				log.Warn("Failed to send", "kind", kind, "err", err)
			}
		}
	}()

	err := client.Run(ctx, func(v overlay.View) {
		fmt.Print("\033[H\033[2J")
		fmt.Print(overlay.Render(v))
	})
	if err != nil && ctx.Err() == nil {
		log.Error("Overlay stopped", "err", err)
		os.Exit(1)
	}
}
