package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/ticketbridge/internal/app"
	"github.com/florianilch/ticketbridge/internal/resolver"
)

func bridgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "bridge",
		Usage: "complete deferred writes from the browser context",
		Commands: []*cli.Command{
			{
				Name:  "apply",
				Usage: "apply a bridge signal through the tool gateway",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "file holding the signal or outcome JSON (- for stdin)",
						Value:   "-",
					},
					&cli.StringFlag{
						Name:  "toolchannel--gateway-url",
						Usage: "tool gateway base URL",
					},
				},
				Action: bridgeApplyAction,
			},
		},
	}
}

func bridgeApplyAction(ctx context.Context, cmd *cli.Command) (err error) {
	signal, err := readSignal(cmd.String("input"))
	if err != nil {
		return err
	}

	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, shutdown(context.WithoutCancel(ctx))) }()

	out := app.NewBrowserResolver(cfg).Write(ctx, signal.Request())
	if err := printOutcome(cmd.Root().Writer, out, cmd.Bool("json")); err != nil {
		return err
	}
	return outcomeError(out)
}

// bridgeInput accepts either a bare signal or a whole outcome carrying one.
type bridgeInput struct {
	resolver.BridgeSignal
	Bridge *resolver.BridgeSignal `json:"bridge"`
}

func readSignal(path string) (resolver.BridgeSignal, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return resolver.BridgeSignal{}, fmt.Errorf("opening signal: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return decodeSignal(r)
}

func decodeSignal(r io.Reader) (resolver.BridgeSignal, error) {
	var in bridgeInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return resolver.BridgeSignal{}, fmt.Errorf("decoding signal: %w", err)
	}

	signal := in.BridgeSignal
	if in.Bridge != nil {
		signal = *in.Bridge
	}
	if signal.TicketKey == "" {
		return resolver.BridgeSignal{}, errors.New("signal carries no ticket key")
	}
	return signal, nil
}
