package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mmcdole/reel/internal/domain"
	"github.com/mmcdole/reel/internal/mediaserver"
	"github.com/mmcdole/reel/internal/mediaserver/plex"
	"github.com/mmcdole/reel/internal/mediaserver/transport"
)

const pinTimeout = 5 * time.Minute

// credentialFlags lets scripts skip the interactive prompts
type credentialFlags struct {
	token    string
	username string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "Use an existing access token instead of signing in")
	cmd.Flags().StringVar(&f.username, "username", "", "Jellyfin username (password is prompted)")
}

// promptCredentials runs the sign-in flow for kind: the plex.tv link code
// for Plex, username and hidden password for Jellyfin
func promptCredentials(ctx context.Context, cmd *cobra.Command, kind domain.BackendKind, flags credentialFlags, opts transport.Options, logger *slog.Logger) (domain.Credentials, error) {
	if flags.token != "" {
		return domain.Credentials{Token: flags.token, Username: flags.username}, nil
	}
	switch kind {
	case domain.BackendPlex:
		token, err := linkPlex(ctx, cmd.OutOrStdout(), opts, logger)
		if err != nil {
			return domain.Credentials{}, err
		}
		return domain.Credentials{Token: token}, nil
	case domain.BackendJellyfin:
		return promptPassword(cmd, flags.username)
	default:
		return domain.Credentials{}, fmt.Errorf("%w: unknown server kind %q", domain.ErrParse, kind)
	}
}

func linkPlex(ctx context.Context, out io.Writer, opts transport.Options, logger *slog.Logger) (string, error) {
	auth := plex.NewPINAuth(plex.PlexTVURL, opts, logger)
	pin, err := auth.RequestPIN(ctx)
	if err != nil {
		return "", err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Plex Authentication"))
	fmt.Fprintln(out, "Open https://plex.tv/link and enter the code:")
	fmt.Fprintf(out, "\n    %s\n\n", accentStyle.Bold(true).Render(pin.Code))
	fmt.Fprintln(out, dimStyle.Render("Waiting for authorization... (Ctrl+C to abort)"))

	token, err := auth.WaitForPIN(ctx, pin.ID, pinTimeout)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(out, successStyle.Render("✓")+" Linked")
	return token, nil
}

func promptPassword(cmd *cobra.Command, username string) (domain.Credentials, error) {
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Jellyfin Authentication"))
	if username == "" {
		fmt.Fprint(out, "Username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return domain.Credentials{}, fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	fmt.Fprint(out, "Password: ")
	var password string
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return domain.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(b)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return domain.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return domain.Credentials{Username: username, Password: password}, nil
}

// detectWithSpinner identifies the server while animating a spinner
func detectWithSpinner(ctx context.Context, out io.Writer, detect func(context.Context) (mediaserver.Detection, error)) (mediaserver.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	type result struct {
		det mediaserver.Detection
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		det, err := detect(ctx)
		resultCh <- result{det, err}
	}()

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		fmt.Fprintf(out, "\r%s Detecting server type...", accentStyle.Render(spinnerFrames[frame%len(spinnerFrames)]))
		select {
		case res := <-resultCh:
			fmt.Fprint(out, clearLine)
			if res.err != nil {
				return mediaserver.Detection{}, res.err
			}
			fmt.Fprintf(out, "%s Detected: %s %s\n", successStyle.Render("✓"), kindName(res.det.Kind), dimStyle.Render(res.det.Version))
			return res.det, nil
		case <-ticker.C:
		}
	}
}

func kindName(kind domain.BackendKind) string {
	switch kind {
	case domain.BackendPlex:
		return "Plex Media Server"
	case domain.BackendJellyfin:
		return "Jellyfin"
	default:
		return string(kind)
	}
}
