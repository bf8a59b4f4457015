package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"duet/internal/client"
	"duet/internal/models"
	"duet/internal/view"

	"github.com/spf13/cobra"
)

type mediaKind int

const (
	mediaImage mediaKind = iota
	mediaVoice
)

// findPeer resolves a profile id or a display name.
func findPeer(ctx context.Context, c *client.Client, ref string) (models.Profile, error) {
	peers, err := c.Profiles(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	for _, p := range peers {
		if p.ID == ref {
			return p, nil
		}
	}
	var found []models.Profile
	for _, p := range peers {
		if strings.EqualFold(p.DisplayName, ref) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return models.Profile{}, fmt.Errorf("nobody called %q", ref)
	case 1:
		return found[0], nil
	default:
		return models.Profile{}, fmt.Errorf("%d people are called %q, use the profile id", len(found), ref)
	}
}

func (a *app) peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List the people you can chat with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.signedIn()
			if err != nil {
				return err
			}
			peers, err := c.Profiles(cmd.Context())
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				cmd.Println("Nobody else is here yet")
			}
			for _, p := range peers {
				status := "offline"
				if p.Online {
					status = "online"
				}
				cmd.Printf("%s\t%s\t%s\n", p.ID, p.DisplayName, status)
			}
			return nil
		},
	}
}

// openChat loads a view with the conversation already selected.
func (a *app) openChat(ctx context.Context, peerRef string) (*view.Chat, *client.Client, models.Profile, error) {
	c, err := a.signedIn()
	if err != nil {
		return nil, nil, models.Profile{}, err
	}
	peer, err := findPeer(ctx, c, peerRef)
	if err != nil {
		return nil, nil, models.Profile{}, err
	}
	chat := view.NewChat(c)
	if err := chat.Load(ctx); err != nil {
		return nil, nil, models.Profile{}, err
	}
	if err := chat.Select(ctx, peer.ID); err != nil {
		return nil, nil, models.Profile{}, err
	}
	return chat, c, peer, nil
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <peer>",
		Short: "Show the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, _, _, err := a.openChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return chat.Render(cmd.OutOrStdout())
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <text>...",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, _, _, err := a.openChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return chat.SendText(cmd.Context(), strings.Join(args[1:], " "))
		},
	}
}

func (a *app) sendMediaCmd(use, short string, kind mediaKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <peer> <file>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, _, _, err := a.openChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return sendFile(cmd.Context(), chat, kind, args[1])
		},
	}
}

func sendFile(ctx context.Context, chat *view.Chat, kind mediaKind, path string) error {
	f, err := os.Open(path)
	if err != nil {
		chat.Report(err)
		return err
	}
	defer func() { _ = f.Close() }()

	if kind == mediaVoice {
		return chat.SendVoice(ctx, filepath.Base(path), f)
	}
	return chat.SendImage(ctx, filepath.Base(path), f)
}

const chatHelp = "Type to send. /image <file>, /voice <file>, /quit"

func (a *app) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer>",
		Short: "Chat interactively with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var out sync.Mutex
			var chat *view.Chat
			redraw := func() {
				if chat == nil {
					return
				}
				out.Lock()
				defer out.Unlock()
				w := cmd.OutOrStdout()
				_, _ = io.WriteString(w, "\033[H\033[2J")
				_ = chat.Render(w)
				for _, t := range chat.Toasts() {
					_, _ = fmt.Fprintf(w, "! %s\n", t.Message)
				}
				_, _ = fmt.Fprintln(w, chatHelp)
			}

			c, err := a.signedIn()
			if err != nil {
				return err
			}
			peer, err := findPeer(ctx, c, args[0])
			if err != nil {
				return err
			}
			chat = view.NewChat(c, view.WithRenderHook(redraw))
			if err := chat.Load(ctx); err != nil {
				return err
			}
			stream, err := c.Stream(ctx)
			if err != nil {
				return err
			}
			defer stream.Close()

			runErr := make(chan error, 1)
			go func() { runErr <- chat.Run(ctx, stream) }()

			if err := chat.Select(ctx, peer.ID); err != nil {
				cancel()
				<-runErr
				return err
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					select {
					case lines <- scanner.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			err = chatLoop(ctx, chat, lines, runErr)
			cancel()
			if !errors.Is(err, errRunEnded) {
				<-runErr
				return err
			}
			if err := stream.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		},
	}
}

var errRunEnded = errors.New("realtime loop ended")

// chatLoop feeds typed lines into the view until the user quits, input ends
// or the realtime loop stops.
func chatLoop(ctx context.Context, chat *view.Chat, lines <-chan string, runErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runErr:
			return errRunEnded
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, chat, line)
			if strings.TrimSpace(line) == "/quit" {
				return nil
			}
		}
	}
}

// handleLine runs one line typed into the interactive chat.
// Failures end up as toasts in the view.
func handleLine(ctx context.Context, chat *view.Chat, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || line == "/quit":
	case strings.HasPrefix(line, "/image "):
		_ = sendFile(ctx, chat, mediaImage, strings.TrimSpace(strings.TrimPrefix(line, "/image ")))
	case strings.HasPrefix(line, "/voice "):
		_ = sendFile(ctx, chat, mediaVoice, strings.TrimSpace(strings.TrimPrefix(line, "/voice ")))
	default:
		chat.ComposerChanged(line)
		_ = chat.SendText(ctx, line)
	}
}
