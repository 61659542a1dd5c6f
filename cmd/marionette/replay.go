package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/history"
	"github.com/go-go-golems/marionette/pkg/orchestrator"
	"github.com/go-go-golems/marionette/pkg/toolbridge"
	"github.com/go-go-golems/marionette/pkg/workflow"
)

// transcriptStream replays a recorded event stream (one JSON event per line)
// through the orchestrator, standing in for the live backend.
type transcriptStream struct {
	path string
}

func (t *transcriptStream) StartStream(ctx context.Context, req orchestrator.Request) (<-chan events.Event, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript")
	}

	ch := make(chan events.Event)
	go func() {
		defer close(ch)
		defer func() {
			_ = f.Close()
		}()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			ev, err := events.NewEventFromJSON([]byte(line))
			if err != nil {
				log.Warn().Err(err).Msg("skipping undecodable transcript line")
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("transcript read error")
		}
	}()
	return ch, nil
}

func (t *transcriptStream) CancelStream(ctx context.Context, requestID string) error {
	return nil
}

// nullEffects disables title/suggestion generation during replay.
type nullEffects struct{}

func (nullEffects) GenerateTitle(ctx context.Context, msgs []*history.Message) (string, error) {
	return "", nil
}

func (nullEffects) SuggestActions(ctx context.Context, msgs []*history.Message) ([]string, error) {
	return nil, nil
}

// logResponder records tool responses instead of posting them anywhere.
type logResponder struct{}

func (logResponder) SendToolResponse(ctx context.Context, callID string, payload any, toolErr error) error {
	log.Info().Str("call_id", callID).Interface("payload", payload).Err(toolErr).
		Msg("tool response (replay)")
	return nil
}

func NewReplayCmd() *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl>",
		Short: "Replay a recorded event stream and print the parsed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := history.NewStore(history.NewMemoryBackend())
			if err != nil {
				return err
			}
			bridge := toolbridge.NewBridge(logResponder{})

			router, err := events.NewEventRouter()
			if err != nil {
				return err
			}
			defer func() {
				_ = router.Close()
			}()
			router.AddHandler("trace", "replay", events.DispatchEvents(func(ev events.Event) error {
				log.Debug().Str("type", string(ev.Type())).Msg("stream event")
				return nil
			}))
			routerCtx, stopRouter := context.WithCancel(ctx)
			defer stopRouter()
			go func() {
				if err := router.Run(routerCtx); err != nil && routerCtx.Err() == nil {
					log.Warn().Err(err).Msg("event router stopped")
				}
			}()
			<-router.Running()

			pm := events.NewPublisherManager()
			pm.SubscribePublisher("replay", router.Publisher)

			orch := orchestrator.New(store, &transcriptStream{path: args[0]}, bridge, nullEffects{},
				orchestrator.WithPublisher(pm))

			gen, sessionID, err := orch.SendMessage(ctx, "", prompt, nil)
			if err != nil {
				return err
			}
			gen.Wait()

			msgs := store.Messages(sessionID)
			if len(msgs) == 0 {
				return errors.New("no messages after replay")
			}
			resp := msgs[len(msgs)-1].ActiveResponse()
			if resp == nil {
				return errors.New("no response after replay")
			}
			printWorkflow(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "replayed prompt", "user prompt the transcript answers")
	return cmd
}

func printWorkflow(cmd *cobra.Command, resp *history.ModelResponse) {
	parsed, ok := resp.Workflow.(workflow.Parsed)
	if !ok {
		cmd.Println(resp.Text)
		return
	}
	if parsed.Plan != "" {
		cmd.Println("PLAN:")
		cmd.Println("  " + parsed.Plan)
	}
	for _, node := range parsed.ExecutionLog {
		title := node.Title
		if title == "" {
			title = string(node.Type)
		}
		cmd.Println(fmt.Sprintf("[%s] %-12s %s", node.Status, node.Type, title))
		if node.ToolEvent != nil {
			cmd.Println(fmt.Sprintf("        tool=%s result=%v", node.ToolEvent.Call.Name, node.ToolEvent.Result))
		}
	}
	if parsed.FinalAnswer != "" {
		cmd.Println("ANSWER:")
		cmd.Println("  " + parsed.FinalAnswer)
	}
	if resp.Err != nil {
		cmd.Println("ERROR: " + resp.Err.Message)
	}
}
