package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/rehearse/internal/playback"
	"github.com/audiolibrelab/rehearse/internal/service"
	"github.com/audiolibrelab/rehearse/internal/timeline"

	"github.com/spf13/cobra"
)

const viewCols = 72

var playbackCmd = &cobra.Command{
	Use:     "playback <record-id>",
	Aliases: []string{"review"},
	Short:   "Review a saved take and its mistakes",
	Long: `Play a saved take with its waveform and checkpoint list.

  Enter / p      play or pause
  s <percent>    seek to a point of the waveform (0-100)
  g <seconds>    go to a time
  m              flag a mistake at the current position
  j <id>         jump to a checkpoint and play
  e <id>         edit a checkpoint comment
  d <id>         delete a checkpoint
  r              redraw
  q              quit

Checkpoint ids are the short handles shown next to each entry.
Flagging, editing and deleting require client.owner in the config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return reviewTake(cmd.Context(), newService(), id)
	},
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", s)
	}
	return id, nil
}

// checkArg rejects the verbs that need an argument when it is missing
func checkArg(verb, arg string) error {
	switch verb {
	case "s":
		if arg == "" {
			return fmt.Errorf("usage: s <percent>")
		}
	case "g":
		if arg == "" {
			return fmt.Errorf("usage: g <seconds>")
		}
	case "j", "e", "d":
		if arg == "" {
			return fmt.Errorf("usage: %s <checkpoint id>", verb)
		}
	}
	return nil
}

func reviewTake(ctx context.Context, svc *service.RehearseService, id int64) error {
	ctrl, err := svc.OpenPlayback(ctx, id)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fmt.Printf("%s\n%s\n", ctrl.Record().Name, ctrl.Render(viewCols))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchEnd(loopCtx, ctrl)

	for {
		fmt.Print("> ")
		line, err := stdin.ReadLine(ctx)
		if err != nil {
			fmt.Println()
			return nil
		}

		verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		if err = checkArg(verb, arg); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}

		switch verb {
		case "", "p":
			err = ctrl.Toggle()
		case "s":
			var pct float64
			if pct, err = strconv.ParseFloat(arg, 64); err == nil {
				err = ctrl.Seek(pct / 100)
			}
		case "g":
			var sec float64
			if sec, err = strconv.ParseFloat(arg, 64); err == nil {
				err = ctrl.SeekTo(sec * 1000)
			}
		case "m":
			m, merr := ctrl.MarkError(ctx)
			if err = merr; err == nil {
				fmt.Printf("Mistake flagged at %s\n", timeline.FormatTime(m.Time))
			}
		case "j":
			err = ctrl.JumpTo(arg)
		case "e":
			err = editComment(ctx, ctrl, arg)
		case "d":
			err = ctrl.DeleteCheckpoint(ctx, arg)
		case "r":
		case "q":
			return nil
		default:
			err = fmt.Errorf("unknown command %q", verb)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			continue
		}
		fmt.Println(ctrl.Render(viewCols))
	}
}

// watchEnd keeps the transport honest about the end of the track
func watchEnd(ctx context.Context, ctrl *playback.Controller) {
	wasPlaying := false
	timeline.Loop(ctx, timeline.NewSystemClock(), 100*time.Millisecond, func(float64) bool {
		playing := ctrl.Update()
		if wasPlaying && !playing && ctrl.Position() >= ctrl.Duration() {
			fmt.Printf("\nEnd of take %s\n> ", timeline.FormatPosition(ctrl.Position(), ctrl.Duration()))
		}
		wasPlaying = playing
		return true
	})
}

// editComment prompts until the comment is saved or the edit is cancelled
// with a single '.'
func editComment(ctx context.Context, ctrl *playback.Controller, ref string) error {
	ed, err := ctrl.Edit(ref)
	if err != nil {
		return err
	}
	if ed.Snapshot() != "" {
		fmt.Printf("Current: %s\n", ed.Snapshot())
	}
	for {
		fmt.Print("comment (empty clears, '.' cancels)> ")
		line, err := stdin.ReadLine(ctx)
		if err != nil {
			ed.Cancel()
			return nil
		}
		if strings.TrimSpace(line) == "." {
			ed.Cancel()
			return nil
		}
		if err := ctrl.Comment(ctx, ed, line); err == nil {
			return nil
		}
	}
}
