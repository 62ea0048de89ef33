package main

import (
	"net/http"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"alfred/internal/songs"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	dir := cli.StringP("dir", "d", "songs", "Directory of .mp3 files")
	addr := cli.StringP("addr", "a", "127.0.0.1:8000", "Listen address")
	prefix := cli.String("prefix", "/api/sing", "Route prefix")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	if st, err := os.Stat(*dir); err != nil || !st.IsDir() {
		log.Error("Song directory unavailable", "dir", *dir, "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           songs.Handler(*prefix, songs.NewLibrary(*dir)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Serving songs", "dir", *dir, "addr", *addr, "prefix", *prefix)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("Server failed", "err", err)
		os.Exit(1)
	}
}
