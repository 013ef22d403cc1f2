// Command ngxwatch tails a NeuroGenX server's telemetry WebSocket and
// prints one line per status change or search trial.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/neurogenx/neurogenx/internal/broadcast"
	"github.com/neurogenx/neurogenx/internal/model"
)

var (
	errorStyle   = color.New(color.FgRed)
	successStyle = color.New(color.FgGreen)
	infoStyle    = color.New(color.FgCyan)
	dimStyle     = color.New(color.Faint)
	boldStyle    = color.New(color.Bold)
)

func fatal(msg string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Sprintf(msg, args...))
	os.Exit(1)
}

func main() {
	var url, runFilter string
	var trials bool
	flag.StringVar(&url, "url", "ws://localhost:8080/ws/telemetry", "Telemetry WebSocket URL")
	flag.StringVar(&runFilter, "run", "", "Only show events for this run id")
	flag.BoolVar(&trials, "trials", true, "Show trial_update events")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watch(ctx, url, filter{runID: runFilter, trials: trials}, os.Stdout); err != nil {
		fatal("ngxwatch: %v", err)
	}
}

// filter selects which envelopes are printed.
type filter struct {
	runID  string
	trials bool
}

func watch(ctx context.Context, url string, f filter, out io.Writer) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()
	fmt.Fprintln(out, dimStyle.Sprintf("connected to %s", url))

	// Unblock ReadMessage on interrupt.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		line, err := formatEnvelope(msg, f)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Sprintf("bad message: %v", err))
			continue
		}
		if line != "" {
			fmt.Fprintln(out, line)
		}
	}
}

// formatEnvelope renders one telemetry envelope, or "" when f drops it.
func formatEnvelope(msg []byte, f filter) (string, error) {
	var env struct {
		Type broadcast.MessageType `json:"type"`
		Data json.RawMessage       `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", err
	}

	switch env.Type {
	case broadcast.TypeStatusUpdate:
		var rec model.RunRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return "", err
		}
		if f.runID != "" && rec.RunID.String() != f.runID {
			return "", nil
		}
		return formatStatus(rec), nil
	case broadcast.TypeTrialUpdate:
		if !f.trials {
			return "", nil
		}
		var ev model.TrialEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return "", err
		}
		if f.runID != "" && ev.RunID.String() != f.runID {
			return "", nil
		}
		return formatTrial(ev), nil
	default:
		return "", errors.New("unknown envelope type " + string(env.Type))
	}
}

func formatStatus(rec model.RunRecord) string {
	var b strings.Builder
	b.WriteString(dimStyle.Sprint(shortID(rec.RunID.String())))
	b.WriteString(" ")

	status := fmt.Sprintf("%-13s", rec.Status)
	switch rec.Status {
	case model.RunStatusCompleted:
		status = successStyle.Sprint(status)
	case model.RunStatusFailed, model.RunStatusCancelled:
		status = errorStyle.Sprint(status)
	default:
		status = infoStyle.Sprint(status)
	}
	b.WriteString(status)
	fmt.Fprintf(&b, " %3d%%", rec.Progress)

	if rec.BestScore != nil {
		fmt.Fprintf(&b, " best=%s", boldStyle.Sprintf("%.4f", *rec.BestScore))
	}
	if rec.Error != nil {
		b.WriteString(" ")
		b.WriteString(errorStyle.Sprint(*rec.Error))
	} else if n := len(rec.Log); n > 0 {
		b.WriteString(" ")
		b.WriteString(rec.Log[n-1])
	}
	return b.String()
}

func formatTrial(ev model.TrialEvent) string {
	head := fmt.Sprintf("%s   trial %-3d %-20s", dimStyle.Sprint(shortID(ev.RunID.String())), ev.TrialIndex, ev.Candidate.Kind)
	if ev.Status == model.TrialFailed {
		return head + " " + errorStyle.Sprintf("failed: %s", ev.Error)
	}
	return fmt.Sprintf("%s score=%s %dms", head, boldStyle.Sprintf("%.4f", ev.Score), ev.DurationMs)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
