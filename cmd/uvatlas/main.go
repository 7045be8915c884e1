// uvatlas charts, flattens and packs meshes into UV atlases.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/uvatlas/internal/config"
	"github.com/Faultbox/uvatlas/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "pipe":
		err = cmdPipe(ctx, args)
	case "unwrap", "u":
		err = cmdUnwrap(ctx, args)
	case "watch", "w":
		err = cmdWatch(ctx, args)
	case "info":
		err = cmdInfo(args)
	case "config":
		err = cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`uvatlas - UV atlas generator

Usage:
  uvatlas <command> [options] [files]

Commands:
  pipe                              Answer OBJ batches on stdin with unwrapped OBJ on stdout
  unwrap <in.obj> [out.obj]         Unwrap an OBJ file (-glb, -png for extra outputs)
  watch <in.obj>...                 Unwrap again whenever an input changes
  info <in.obj>                     Show mesh statistics
  config [-format yaml|toml] [-o f] Print or save the effective configuration

Every command accepts -config <file>, -debug, -log <file> and the engine
options, for example -resolution 1024 -bruteForce -atlasLayout UDIM.

Examples:
  uvatlas unwrap -resolution 1024 -png model.obj
  uvatlas watch -config uvatlas.yaml props/*.obj
  uvatlas pipe -padding 4 < batch.txt`)
}

// setup parses the common flags plus any the command registered on fs, loads
// the config and initializes logging.
func setup(fs *flag.FlagSet, args []string) (*config.Config, error) {
	flags := config.Register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := flags.Load()
	if err != nil {
		return nil, err
	}

	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		return nil, err
	}
	logger.Debug("config loaded", zap.String("path", flags.ConfigPath), zap.Any("options", cfg.Options()))
	return cfg, nil
}
