package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"govrun/internal/app"
	"govrun/internal/run"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, defaultRunner())
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

// defaultRunner is the hook point for the agent executor. The daemon itself
// does not talk to a model provider; a deployment embeds its executor here or
// drives the launcher from its own process. The default fails every run with
// a recorded error so a misconfigured deployment is visible in the run
// history instead of silently appearing healthy.
func defaultRunner() run.Runner {
	return run.RunnerFunc(func(ctx context.Context, ex run.Execution) error {
		return fmt.Errorf("no agent executor wired for entrypoint %q", ex.Schedule.Entrypoint)
	})
}
