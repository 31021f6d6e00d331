package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/ticketbridge/internal/app"
	"github.com/florianilch/ticketbridge/internal/resolver"
)

func issueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "read and update issues from the server context",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "read an issue snapshot",
				ArgsUsage: "<key>",
				Action:    issueGetAction,
			},
			{
				Name:      "update",
				Usage:     "update issue fields",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "field",
						Aliases: []string{"f"},
						Usage:   "field to set as name=value; JSON values are decoded",
					},
					&cli.StringFlag{
						Name:  "action",
						Usage: "action recorded with the update",
					},
					&cli.StringFlag{
						Name:  "template",
						Usage: "template id to record usage for",
					},
				},
				Action: issueUpdateAction,
			},
			{
				Name:      "search",
				Usage:     "search issues with JQL",
				ArgsUsage: "<jql>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "max",
						Usage: "maximum number of results",
						Value: app.DefaultConfigSearchMaxResults,
					},
				},
				Action: issueSearchAction,
			},
		},
	}
}

// withService runs fn against the server-side service built from the configuration.
func withService(ctx context.Context, cmd *cli.Command, fn func(*app.Service) error) (err error) {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, shutdown(context.WithoutCancel(ctx))) }()

	svc, closeService, err := app.OpenService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer func() { err = errors.Join(err, closeService()) }()

	return fn(svc)
}

func issueGetAction(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return errors.New("issue key required")
	}

	return withService(ctx, cmd, func(svc *app.Service) error {
		out := svc.Read(ctx, key)
		if err := printOutcome(cmd.Root().Writer, out, cmd.Bool("json")); err != nil {
			return err
		}
		return outcomeError(out)
	})
}

func issueUpdateAction(ctx context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return errors.New("issue key required")
	}

	fieldMap, err := parseFields(cmd.StringSlice("field"))
	if err != nil {
		return err
	}

	return withService(ctx, cmd, func(svc *app.Service) error {
		out := svc.Write(ctx, resolver.UpdateRequest{
			TicketKey:       key,
			FieldMap:        fieldMap,
			RequestedAction: cmd.String("action"),
		}, cmd.String("template"))
		if err := printOutcome(cmd.Root().Writer, out, cmd.Bool("json")); err != nil {
			return err
		}
		return outcomeError(out)
	})
}

func issueSearchAction(ctx context.Context, cmd *cli.Command) error {
	jql := strings.Join(cmd.Args().Slice(), " ")
	if jql == "" {
		return errors.New("jql required")
	}

	return withService(ctx, cmd, func(svc *app.Service) error {
		snaps, err := svc.Search(ctx, jql, int(cmd.Int("max")))
		if err != nil {
			return err
		}
		return printSnapshots(cmd.Root().Writer, snaps, cmd.Bool("json"))
	})
}

// parseFields turns name=value pairs into a field map. Values that parse as
// JSON are decoded, anything else is kept as a string.
func parseFields(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field %q: expected name=value", pair)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		out[name] = value
	}
	return out, nil
}

// outcomeError turns a non-success outcome into the command's error so the
// process exits non-zero after the outcome was printed.
func outcomeError(out resolver.Outcome) error {
	switch out.Kind {
	case resolver.KindSuccess:
		return nil
	case resolver.KindRequiresRemoteBridge:
		return cli.Exit("", 2)
	default:
		return cli.Exit("", 1)
	}
}
