package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/duckmesh/duckxfer/internal/cli/duckxferctl"
)

const defaultTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := duckxferctl.Run(ctx, os.Args[1:], duckxferctl.Options{
		BaseURL: os.Getenv("DUCKXFER_API_URL"),
		APIKey:  strings.TrimSpace(os.Getenv("DUCKXFER_API_KEY")),
		Timeout: timeoutFromEnv(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	})
	stop()
	os.Exit(code)
}

// timeoutFromEnv reads DUCKXFER_CLI_TIMEOUT; the -timeout flag still wins.
func timeoutFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("DUCKXFER_CLI_TIMEOUT"))
	if raw == "" {
		return defaultTimeout
	}
	timeout, err := time.ParseDuration(raw)
	if err != nil || timeout <= 0 {
		fmt.Fprintf(os.Stderr, "ignoring DUCKXFER_CLI_TIMEOUT=%q, using %s\n", raw, defaultTimeout)
		return defaultTimeout
	}
	return timeout
}
