package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"promocast/internal/app"
	logx "promocast/pkg/logx"
)

func main() {
	var (
		cfgPath string
		envPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file with PROMOCAST_* credentials")
	flag.Parse()

	// Used until the app has built its configured logger, and for exit errors.
	log := logx.NewConsole("info")
	fatal := func(msg string, err error) {
		log.Error(msg, logx.Err(err))
		os.Exit(1)
	}

	// Real environment variables win over the file.
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatal("load env", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fatal("init", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		fatal("start", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-a.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fatal("runtime", err)
	}
	if stopErr != nil {
		fatal("stop", stopErr)
	}
}
