package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/engine"
	srv "github.com/mohammad-safakhou/deepresearch/internal/server"
)

// askCMD runs a research session end to end from the terminal, using
// an in-memory session store. Clarification questions are answered
// interactively on stdin.
func askCMD() *cobra.Command {
	var cfgPath string
	var ask = &cobra.Command{
		Use:   "ask [query]",
		Short: "Run a one-shot research session from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			cfg.Session.Store = "inmemory"
			cfg.Session.Sweep.Enabled = false

			s, err := srv.New(context.Background(), cfg)
			if err != nil {
				return err
			}

			sink := engine.SinkFunc(func(ev engine.Event) {
				switch ev.Type {
				case engine.EventStatus:
					if !ev.IsPartial {
						fmt.Fprintf(os.Stderr, "… %s\n", ev.Message)
					}
				case engine.EventInterimFindings:
					fmt.Fprintf(os.Stderr, "[finding] %s\n", firstLine(ev.Findings))
				case engine.EventToolRequest:
					fmt.Fprintf(os.Stderr, "[tool] %s\n", ev.ToolName)
				case engine.EventError:
					fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
				}
			})

			ctx := context.Background()
			sessionID := uuid.NewString()
			in := engine.TurnInput{SessionID: sessionID, UserQuery: strings.Join(args, " ")}
			reader := bufio.NewReader(os.Stdin)

			for {
				res := s.Engine.ProcessTurn(ctx, in, sink)
				switch res.NextAction {
				case engine.NextActionProcessing:
					in = engine.TurnInput{SessionID: sessionID}
				case engine.NextActionAwaitingUser:
					if res.OutputForUI != nil {
						fmt.Printf("\n%s\n> ", res.OutputForUI.Question)
					} else {
						fmt.Print("\nPlease clarify:\n> ")
					}
					answer, err := reader.ReadString('\n')
					if err != nil {
						return err
					}
					in = engine.TurnInput{SessionID: sessionID, UserResponseToClarification: strings.TrimSpace(answer)}
				case engine.NextActionReportReady:
					fmt.Println(res.FinalReportMarkdown)
					return nil
				case engine.NextActionCompletedNoReport:
					if res.OutputForUI != nil {
						fmt.Println(res.OutputForUI.Message)
					}
					return nil
				default:
					return fmt.Errorf("turn failed: %s", res.Error)
				}
			}
		},
	}
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
