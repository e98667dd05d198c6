package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/rehearse/internal/service"
	"github.com/audiolibrelab/rehearse/internal/session"
	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

const (
	stripCols    = 60
	redrawPeriod = 100 // ms
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a take and flag mistakes while playing",
	Long: `Record a take from the sources of a capture mode. The live view scrolls
the input and backing levels from right to left.

  Enter   flag a mistake at the current moment
  u       remove the last flagged mistake
  s       stop and keep the take as the draft
  a       abort and throw the take away

Ctrl+C stops like 's'. The draft is saved with 'rehearse save'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		svc := newService()
		draft, err := recordTake(cmd.Context(), svc, mode)
		if err != nil {
			return err
		}
		if draft != nil {
			fmt.Println("Draft kept. Save it with: rehearse save [name]")
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringP("mode", "m", "", "capture mode: tab or loopback (default is the last one used)")
}

// recordTake runs one interactive recording. It returns nil and no error
// when the take was aborted.
func recordTake(ctx context.Context, svc *service.RehearseService, mode string) (*session.Draft, error) {
	sess, err := svc.StartRecording(ctx, mode)
	if err != nil {
		return nil, err
	}

	lastDraw := -float64(redrawPeriod)
	sess.SetFrameHandler(func(frame []timeline.Positioned, elapsed float64) {
		if elapsed-lastDraw < redrawPeriod {
			return
		}
		lastDraw = elapsed
		fmt.Printf("\r%s %s  mistakes: %d ",
			timeline.RenderStrip(frame, cfg.Visualizer.Width, cfg.Visualizer.MaxBarHeight, stripCols),
			timeline.FormatTime(elapsed),
			len(sess.Markers()))
	})

	fmt.Printf("Recording in %s mode. Enter=mistake u=undo s=stop a=abort\n", sess.Mode())

	// Ctrl+C keeps the take, like 's'
	interrupt, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return driveTake(interrupt, svc, sess, stdin)
}

// driveTake applies keys from in to the running take until it is stopped or
// aborted. Cancelling ctx stops the take and keeps it; so does the end of
// input.
func driveTake(ctx context.Context, svc *service.RehearseService, sess *session.Session, in *console) (*session.Draft, error) {
	for {
		line, err := in.ReadLine(ctx)
		if ctx.Err() != nil {
			slog.Debug("Recording interrupted")
			return stopTake(svc)
		}
		if errors.Is(err, io.EOF) {
			return stopTake(svc)
		}
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			m, err := svc.MarkError()
			if err != nil {
				fmt.Fprintf(os.Stderr, "cannot flag mistake: %v\n", err)
				continue
			}
			slog.Debug("Mistake flagged", "at", timeline.FormatTime(m.Time))
		case "u":
			markers := sess.Markers()
			if len(markers) == 0 {
				continue
			}
			if err := svc.DeleteError(markers[len(markers)-1].ID); err != nil {
				fmt.Fprintf(os.Stderr, "cannot remove mistake: %v\n", err)
			}
		case "s", "q":
			return stopTake(svc)
		case "a":
			svc.AbortRecording()
			fmt.Println("\nTake discarded")
			return nil, nil
		default:
			fmt.Fprintf(os.Stderr, "unknown key %q (Enter, u, s, a)\n", strings.TrimSpace(line))
		}
	}
}

func stopTake(svc *service.RehearseService) (*session.Draft, error) {
	fmt.Println()
	draft, err := svc.StopRecording()
	if err != nil {
		return draft, err
	}
	fmt.Printf("Recorded %s with %d mistakes (%s)\n",
		timeline.FormatTime(draft.Duration), len(draft.Errors), draft.MimeType)
	return draft, nil
}
