package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/ticketbridge/internal/app"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "authorize the server context against the provider",
		Commands: []*cli.Command{
			{
				Name:   "url",
				Usage:  "print the consent URL",
				Action: authURLAction,
			},
			{
				Name:      "login",
				Aliases:   []string{"exchange"},
				Usage:     "authorize by pasting the redirect URL or code",
				ArgsUsage: "[code or redirect url]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state",
						Usage: "state to use instead of a random one",
					},
				},
				Action: authLoginAction,
			},
		},
	}
}

func authURLAction(ctx context.Context, cmd *cli.Command) error {
	return withService(ctx, cmd, func(svc *app.Service) error {
		authURL, state, err := svc.AuthorizationURL("")
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return printJSON(cmd.Root().Writer, map[string]string{"url": authURL, "state": state})
		}
		fmt.Fprintln(cmd.Root().Writer, authURL)
		return nil
	})
}

func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	return withService(ctx, cmd, func(svc *app.Service) error {
		authURL, state, err := svc.AuthorizationURL(cmd.String("state"))
		if err != nil {
			return err
		}

		input := cmd.Args().First()
		if input == "" {
			w := cmd.Root().ErrWriter
			fmt.Fprintf(w, "Open this URL in a browser and approve access:\n\n  %s\n\n", authURL)
			fmt.Fprint(w, "Paste the redirect URL or the code: ")

			input, err = readSecret(os.Stdin)
			fmt.Fprintln(w)
			if err != nil {
				return fmt.Errorf("reading code: %w", err)
			}
		}

		code, err := parseAuthorizationInput(input, state)
		if err != nil {
			return err
		}

		if err := svc.CompleteAuthorization(ctx, code); err != nil {
			return err
		}
		fmt.Fprintln(cmd.Root().Writer, green("✓ authorized"))
		return nil
	})
}

// readSecret reads one line without echo when f is a terminal.
func readSecret(f *os.File) (string, error) {
	if fd := int(f.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return strings.TrimSpace(string(b)), err
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// parseAuthorizationInput extracts the code from a pasted redirect URL or a
// bare code. A pasted URL must carry the expected state.
func parseAuthorizationInput(input, state string) (string, error) {
	if input == "" {
		return "", errors.New("no code entered")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect url: %w", err)
	}
	q := u.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		return "", fmt.Errorf("authorization denied: %s", providerErr)
	}
	if q.Get("state") != state {
		return "", errors.New("state mismatch in redirect url")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("redirect url carries no code")
	}
	return code, nil
}
