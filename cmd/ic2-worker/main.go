// Command ic2-worker executes a single task in isolation. The ic2 server
// starts one per work item, writes a framed request to its stdin and reads
// the framed result from its stdout. Logs go to stderr, which the server
// forwards into its own log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/TTT3216/ic2/internal/catalog"
	"github.com/TTT3216/ic2/internal/config"
	"github.com/TTT3216/ic2/internal/pool"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevelName); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	entry := log.WithField("pid", os.Getpid())
	exec := pool.NewInProcess(catalog.New(catalog.FromConfig(cfg), entry))
	if err := pool.Serve(ctx, os.Stdin, os.Stdout, exec, entry); err != nil {
		entry.WithError(err).Error("serve failed")
		os.Exit(1)
	}
}
