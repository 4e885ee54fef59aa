package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default $CHATSYNC_HOME/config.toml)")
	flag.Parse()

	if err := config.LoadDotEnv(profile.EnvPath()); err != nil {
		fail(err)
	}
	configPath := *configFlag
	if configPath == "" {
		configPath = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fail(err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	profileName, err := profile.Resolve(*profileFlag, cfg)
	if err != nil {
		fail(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profileName, Config: cfg}),
	)

	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
