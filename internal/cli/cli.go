// Package cli defines the slipwire command tree and wires the concrete
// channel and transit implementations into a receive session.
package cli

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/slipwire/slipwire/internal/app"
	"github.com/slipwire/slipwire/internal/config"
	"github.com/slipwire/slipwire/internal/logging"
	"github.com/slipwire/slipwire/internal/transit"
	"github.com/slipwire/slipwire/internal/wormhole"
)

const version = "v0.1.0"

// New builds the root command.
func New() *cli.Command {
	return &cli.Command{
		Name:    "slipwire",
		Usage:   "get things from one computer to another, safely",
		Version: version,
		Commands: []*cli.Command{
			receiveCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
	}
}

func receiveCommand() *cli.Command {
	defaults := config.FromEnv()
	return &cli.Command{
		Name:      "receive",
		Aliases:   []string{"rx"},
		Usage:     "receive a text message, file, or directory",
		ArgsUsage: "[code]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "relay-url",
				Value: defaults.RelayURL,
				Usage: "rendezvous server URL",
			},
			&cli.StringFlag{
				Name:  "transit-helper",
				Value: defaults.TransitHelper,
				Usage: "transit relay to use, as tcp:host:port",
			},
			&cli.BoolFlag{
				Name:    "zero",
				Aliases: []string{"0"},
				Usage:   "enable no-code anything-goes mode",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "display the session verifier",
			},
			&cli.BoolFlag{
				Name:  "accept-file",
				Usage: "accept the transfer without asking for confirmation",
			},
			&cli.StringFlag{
				Name:    "output-file",
				Aliases: []string{"o"},
				Usage:   "write the received data to a specific name",
			},
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"d"},
				Value:   defaults.OutDir,
				Usage:   "directory to receive into",
			},
			&cli.BoolFlag{
				Name:  "hide-progress",
				Usage: "suppress the progress bar",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: defaults.LogLevel,
				Usage: "debug, info, warn, or error",
			},
		},
		Action: receiveAction,
	}
}

func receiveAction(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Receive{
		RelayURL:      cmd.String("relay-url"),
		TransitHelper: cmd.String("transit-helper"),
		Code:          cmd.Args().First(),
		Zeromode:      cmd.Bool("zero"),
		Verify:        cmd.Bool("verify"),
		AcceptFile:    cmd.Bool("accept-file"),
		OutputFile:    cmd.String("output-file"),
		OutDir:        cmd.String("out-dir"),
		HideProgress:  cmd.Bool("hide-progress"),
		LogLevel:      cmd.String("log-level"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New("slipwire", cfg.LogLevel)
	channel, err := wormhole.NewChannel(cfg.RelayURL, wormhole.AppID, logger)
	if err != nil {
		return err
	}

	receiver := app.New(app.Config{
		Code:         cfg.Code,
		Zeromode:     cfg.Zeromode,
		ShowVerifier: cfg.Verify,
		AcceptFile:   cfg.AcceptFile,
		OutputFile:   cfg.OutputFile,
		Dir:          cfg.OutDir,
		HideProgress: cfg.HideProgress,
	}, channel, newTransitFactory(cfg, logger), logger)

	return receiver.Go(ctx)
}

func newTransitFactory(cfg config.Receive, logger *slog.Logger) app.TransitFactory {
	return func(key []byte) (app.Transit, error) {
		tr, err := transit.New(key, transit.Options{TransitHelper: cfg.TransitHelper}, logger)
		if err != nil {
			return nil, err
		}
		return &transitAdapter{tr}, nil
	}
}

// transitAdapter narrows *transit.Transit to the session interface; the
// concrete Connect returns *transit.RecordPipe, which Go will not treat as
// covariant with the interface's return type.
type transitAdapter struct {
	*transit.Transit
}

func (a *transitAdapter) Connect(ctx context.Context) (app.RecordPipe, error) {
	pipe, err := a.Transit.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return pipe, nil
}
