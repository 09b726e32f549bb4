package main

import (
	"context"
	"os"

	"github.com/omen-fan/omen-fan/pkg/fandconfig"
	"github.com/omen-fan/omen-fan/pkg/util"
)

type configContextKey int

const (
	defaultConfigContextKey configContextKey = 0
)

var (
	Version string
	Commit  string
	Date    string
)

func configIntoContext(ctx context.Context, cfg *fandconfig.Config) context.Context {
	return context.WithValue(ctx, defaultConfigContextKey, cfg)
}

func configFromContext(ctx context.Context) *fandconfig.Config {
	cfg, ok := ctx.Value(defaultConfigContextKey).(*fandconfig.Config)
	if !ok {
		panic("configuration not found in context")
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
