package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voicebridge/internal/bridge"
	"voicebridge/internal/config"
	"voicebridge/internal/lang"
	"voicebridge/internal/playback"
	"voicebridge/internal/state"
)

type loader func() (*config.Config, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the call to a browser UI over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Bridge.Address = addr
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()
			a.checkServices(ctx)

			srv := bridge.NewServer(cfg.Bridge.Address, a.call, a.registry)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides bridge.address)")
	return cmd
}

const callHelp = `Type a message and press enter to send it.
  /rec          start or cancel listening
  /lang <tag>   switch language (e.g. ta-IN)
  /auto on|off  toggle continuous conversation
  /end          end the call
  /quit         end the call and exit`

func newCallCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "call",
		Short: "Run a call in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()
			a.checkServices(ctx)

			snaps, unsubscribe := a.call.Subscribe()
			defer unsubscribe()
			go printSnapshots(ctx, snaps)

			if err := a.call.StartCall(); err != nil {
				return err
			}
			fmt.Println(callHelp)

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					quit, err := a.command(strings.TrimSpace(line))
					if err != nil {
						fmt.Fprintln(os.Stderr, "!", err)
					}
					if quit {
						return nil
					}
				}
			}
		},
	}
}

func (a *app) command(line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "":
		return false, nil
	case "/quit":
		a.call.EndCall()
		return true, nil
	case "/end":
		a.call.EndCall()
		return false, nil
	case "/start":
		return false, a.call.StartCall()
	case "/rec":
		return false, a.call.ToggleRecording()
	case "/lang":
		tag, err := lang.Parse(arg)
		if err != nil {
			return false, err
		}
		return false, a.call.SetLanguage(tag)
	case "/auto":
		a.call.SetContinuous(arg != "off")
		return false, nil
	default:
		return false, a.call.SubmitText(line)
	}
}

// printSnapshots prints each new turn, state change and notice.
func printSnapshots(ctx context.Context, snaps <-chan state.Session) {
	var (
		turns  int
		last   state.CallState = -1
		notice *state.Notice
	)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snaps:
			if !ok {
				return
			}
			if len(s.History) < turns {
				turns = 0
			}
			for _, t := range s.History[turns:] {
				fmt.Printf("%-9s %s\n", t.Role+":", t.Text)
				if t.VoiceMemoryLabel != "" {
					fmt.Printf("%-9s [voice memory: %s]\n", "", t.VoiceMemoryLabel)
				}
			}
			turns = len(s.History)
			if s.State != last {
				fmt.Printf("  [%s]\n", s.State)
				last = s.State
			}
			if s.Notice != nil && (notice == nil || !s.Notice.At.Equal(notice.At)) {
				fmt.Printf("  ! %s\n", s.Notice.Message)
			}
			notice = s.Notice
		}
	}
}

func newSayCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Resolve and play one reply through the synthesis fallback chain",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			tagFlag, _ := cmd.Flags().GetString("lang")
			tag, err := lang.Parse(tagFlag)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			text := strings.Join(args, " ")
			res, err := a.resolver.Resolve(ctx, text, tag)
			if err != nil {
				return err
			}
			fmt.Printf("tier=%s url=%s\n", res.Tier, res.URL)

			req := playback.Request{Language: tag}
			if res.Local {
				req.FallbackText = res.Text
			} else {
				req.PrimaryURL = res.URL
			}
			if err := a.sequencer.Play(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringP("lang", "l", string(lang.Default), "language tag")
	return cmd
}

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <text>",
		Short: "Print the language detected for text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := lang.NewDetector().Detect(strings.Join(args, " "))
			l := lang.MustLookup(tag)
			fmt.Printf("%s\t%s\n", tag, l.Name)
			return nil
		},
	}
}
