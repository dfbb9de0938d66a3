package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	acp "github.com/coder/acp-go-sdk"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bazelment/cursorbridge/bridge"
	"github.com/bazelment/cursorbridge/format"
	"github.com/bazelment/cursorbridge/session"
)

var (
	promptSession string
	promptCwd     string
	promptMode    string
	promptModel   string
	promptFormat  string
)

var promptCmd = &cobra.Command{
	Use:   "prompt [text...]",
	Short: "Run one prompt turn and stream the result to stdout",
	Long: `Prompt runs a single cursor-agent turn. Arguments are joined into the
prompt with blank lines between them; with no arguments the prompt is read
from stdin.

Without --session a new session is created and its id is logged to stderr.
Pass that id back with --session to continue the conversation.

Interrupt (Ctrl-C) cancels the turn; buffered output is still written and
the turn reports a cancelled stop reason.`,
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVarP(&promptSession, "session", "s", "", "Existing session id to continue")
	promptCmd.Flags().StringVar(&promptCwd, "cwd", "", "Working directory for a new session (default: current directory)")
	promptCmd.Flags().StringVar(&promptMode, "mode", "", "Session mode: default or plan")
	promptCmd.Flags().StringVar(&promptModel, "model", "", "Model for this session")
	promptCmd.Flags().StringVarP(&promptFormat, "format", "f", "openai", "Output format: openai or acp")
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	segments := args
	if len(segments) == 0 {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("no prompt given; pass it as arguments or pipe it on stdin")
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading prompt: %w", err)
		}
		segments = []string{string(data)}
	}
	if strings.TrimSpace(bridge.JoinPrompt(segments)) == "" {
		return fmt.Errorf("empty prompt")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := resolveSession(ctx, a.sessions)
	if err != nil {
		return err
	}
	a.logger.Info("session", "session_id", sess.ID, "resume", sess.ResumeID != "")

	model := firstNonEmpty(sess.Model, a.cfg.Model)
	out, err := newTurnWriter(promptFormat, cmd.OutOrStdout(), sess.ID, model)
	if err != nil {
		return err
	}

	b, err := a.newBridge()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			a.logger.Info("interrupt received, cancelling turn")
			if err := b.Cancel(sess.ID); err != nil {
				a.logger.Warn("cancel failed", "error", err)
			}
		case <-done:
		}
	}()

	res, turnErr := b.Prompt(ctx, sess.ID, segments, out)
	if res != nil {
		a.logger.Debug("turn finished",
			"stop_reason", res.StopReason,
			"duration", res.Duration,
			"exit_code", res.ExitCode)
	}
	if err := out.Finish(res, turnErr); err != nil {
		return err
	}
	return turnErr
}

// resolveSession loads --session or creates a new one, applying --mode and
// --model either way.
func resolveSession(ctx context.Context, m *session.Manager) (session.Session, error) {
	if promptSession == "" {
		cwd := promptCwd
		if cwd == "" {
			wd, err := os.Getwd()
			if err != nil {
				return session.Session{}, err
			}
			cwd = wd
		}
		return m.CreateSession(ctx, session.Options{
			Cwd:   cwd,
			Mode:  session.Mode(promptMode),
			Model: promptModel,
		})
	}

	var patch session.Patch
	if promptMode != "" {
		mode := session.Mode(promptMode)
		patch.Mode = &mode
	}
	if promptModel != "" {
		patch.Model = &promptModel
	}
	if promptCwd != "" {
		patch.Cwd = &promptCwd
	}
	if patch == (session.Patch{}) {
		return m.GetSession(promptSession)
	}
	return m.UpdateSession(ctx, promptSession, patch)
}

// turnWriter is a Sink that also knows how to end the stream.
type turnWriter interface {
	bridge.Sink
	Finish(res *bridge.TurnResult, turnErr error) error
}

func newTurnWriter(name string, w io.Writer, sessionID, model string) (turnWriter, error) {
	switch name {
	case "openai", "":
		return &openaiWriter{w: w, enc: format.NewOpenAI(model)}, nil
	case "acp":
		return &acpWriter{enc: json.NewEncoder(w), sessionID: sessionID}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want openai or acp)", name)
	}
}

// openaiWriter writes server-sent events.
type openaiWriter struct {
	w   io.Writer
	enc *format.OpenAI
}

func (o *openaiWriter) Send(u bridge.Update) error {
	chunk := o.enc.Chunk(u)
	if chunk == nil {
		return nil
	}
	return format.WriteSSE(o.w, chunk)
}

func (o *openaiWriter) Finish(res *bridge.TurnResult, _ error) error {
	if err := format.WriteSSE(o.w, o.enc.Final(res)); err != nil {
		return err
	}
	return format.WriteDone(o.w)
}

// acpWriter writes one JSON session notification per line, then the prompt
// response.
type acpWriter struct {
	enc       *json.Encoder
	sessionID string
}

func (a *acpWriter) Send(u bridge.Update) error {
	n, ok := format.ACP{}.Notification(a.sessionID, u)
	if !ok {
		return nil
	}
	return a.enc.Encode(n)
}

func (a *acpWriter) Finish(res *bridge.TurnResult, _ error) error {
	if res == nil {
		return nil
	}
	reason, err := format.StopReason(res)
	if err != nil {
		// Failed turns have no ACP stop reason; the error is the response.
		return nil
	}
	return a.enc.Encode(acp.PromptResponse{StopReason: reason})
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
