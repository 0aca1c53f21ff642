package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"keyward/internal/domain"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "keyserver:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("keyserver", pflag.ContinueOnError)
	addr := fs.String("listen", ":8008", "listen address")
	tokens := fs.StringArray("token", nil, "access token mapping TOKEN=@user:server/DEVICE (repeatable)")
	verbose := fs.Bool("verbose", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv := newServer(logger)
	for _, spec := range *tokens {
		token, dev, err := parseToken(spec)
		if err != nil {
			return err
		}
		srv.addToken(token, dev)
	}

	logger.Info("key server listening", "addr", *addr, "tokens", len(*tokens))
	return http.ListenAndServe(*addr, srv.router())
}

// parseToken splits TOKEN=@user:server/DEVICE.
func parseToken(spec string) (string, deviceRef, error) {
	token, who, ok := strings.Cut(spec, "=")
	if !ok || token == "" {
		return "", deviceRef{}, fmt.Errorf("token %q: want TOKEN=@user:server/DEVICE", spec)
	}
	i := strings.LastIndex(who, "/")
	if i <= 0 || i == len(who)-1 || !strings.HasPrefix(who, "@") {
		return "", deviceRef{}, fmt.Errorf("token %q: want TOKEN=@user:server/DEVICE", spec)
	}
	return token, deviceRef{user: domain.UserID(who[:i]), device: domain.DeviceID(who[i+1:])}, nil
}
