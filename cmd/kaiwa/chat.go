package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kaiwa-cli/kaiwa/internal/config"
	"github.com/kaiwa-cli/kaiwa/internal/logger"
	"github.com/kaiwa-cli/kaiwa/internal/memory"
	"github.com/kaiwa-cli/kaiwa/internal/model"
	"github.com/kaiwa-cli/kaiwa/internal/model/contract"

	"charm.land/lipgloss/v2"
	"github.com/google/shlex"
	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := model.AuthMode(cfg.Chat.AuthMode)
		if mode == "" {
			mode = model.AuthModeOllama
		}

		ctx := logger.WithSessionID(cmd.Context(), ulid.Make().String())

		gc, err := model.ResolveGeneratorConfig(ctx, cfg.Chat.Model, mode, cfg, nil)
		if err != nil {
			return err
		}

		gen, err := model.NewGenerator(ctx, gc, nil, nil)
		if err != nil {
			return err
		}

		session := newChatSession(ctx, gen, gc, cfg)
		return session.run(os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

type chatSession struct {
	ctx     context.Context
	gen     model.Generator
	gc      *model.GeneratorConfig
	cfg     *config.Config
	history []contract.Turn
	recall  *memory.Store

	promptStyle lipgloss.Style
	modelStyle  lipgloss.Style
	noteStyle   lipgloss.Style
}

func newChatSession(ctx context.Context, gen model.Generator, gc *model.GeneratorConfig, cfg *config.Config) *chatSession {
	s := &chatSession{
		ctx:         ctx,
		gen:         gen,
		gc:          gc,
		cfg:         cfg,
		promptStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true),
		modelStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		noteStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
	}
	if cfg.Memory.Enabled {
		s.recall = memory.NewStore(config.DefaultMemoryCollection, gen, cfg.Memory.RecallLimit, nil)
	}
	return s
}

func (s *chatSession) run(in io.Reader, out io.Writer) error {
	slog.Debug("chat session started", "session_id", logger.GetSessionID(s.ctx), "model", s.gc.Model)
	fmt.Fprintf(out, "kaiwa — %s (%s)\n", s.gc.Model, s.gc.AuthMode)
	fmt.Fprintln(out, s.noteStyle.Render("Type /exit to quit, /save <path> to export, /recall <query> to search history."))

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, s.promptStyle.Render("> "))
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if done := s.command(out, text); done {
				return nil
			}
			continue
		}

		s.exchange(out, text)
	}
}

// command handles one slash command. Arguments are shell-split so quoted
// paths with spaces work. Returns true when the session should end.
func (s *chatSession) command(out io.Writer, text string) bool {
	args, err := shlex.Split(text)
	if err != nil {
		fmt.Fprintln(out, s.noteStyle.Render("bad command: "+err.Error()))
		return false
	}

	switch args[0] {
	case "/exit":
		return true
	case "/save":
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		s.save(out, path)
	case "/recall":
		s.doRecall(out, strings.Join(args[1:], " "))
	default:
		fmt.Fprintln(out, s.noteStyle.Render("unknown command "+args[0]))
	}
	return false
}

// exchange streams one model reply and appends both sides to the history.
func (s *chatSession) exchange(out io.Writer, text string) {
	userTurn := contract.Turn{Role: contract.RoleUser, Parts: []contract.Part{{Text: text}}}
	s.history = append(s.history, userTurn)

	req := contract.GenerationRequest{Contents: s.history}

	var reply strings.Builder
	for resp, err := range s.gen.GenerateContentStream(s.ctx, req) {
		if err != nil {
			fmt.Fprintln(out, s.noteStyle.Render("error: "+err.Error()))
			// Drop the failed turn so the next attempt starts clean.
			s.history = s.history[:len(s.history)-1]
			return
		}
		if resp.Text != "" {
			fmt.Fprint(out, s.modelStyle.Render(resp.Text))
			reply.WriteString(resp.Text)
		}
	}
	fmt.Fprintln(out)

	s.history = append(s.history, contract.Turn{
		Role:  contract.RoleModel,
		Parts: []contract.Part{{Text: reply.String()}},
	})

	if s.recall != nil {
		if err := s.recall.Remember(s.ctx, ulid.Make().String(), text, reply.String()); err != nil {
			fmt.Fprintln(out, s.noteStyle.Render("memory: "+err.Error()))
		}
	}
}

type transcriptEntry struct {
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

type transcript struct {
	Model    string            `yaml:"model"`
	AuthMode string            `yaml:"auth_mode"`
	SavedAt  time.Time         `yaml:"saved_at"`
	Turns    []transcriptEntry `yaml:"turns"`
}

// save exports the transcript with an atomic write so a crash never leaves a
// half-written file.
func (s *chatSession) save(out io.Writer, path string) {
	if path == "" {
		path = filepath.Join(s.cfg.Chat.TranscriptDir, fmt.Sprintf("chat-%d.yaml", time.Now().Unix()))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintln(out, s.noteStyle.Render("save: "+err.Error()))
		return
	}

	doc := transcript{
		Model:    s.gc.Model,
		AuthMode: string(s.gc.AuthMode),
		SavedAt:  time.Now().UTC(),
	}
	for _, turn := range s.history {
		doc.Turns = append(doc.Turns, transcriptEntry{Role: string(turn.Role), Text: turn.Text()})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		fmt.Fprintln(out, s.noteStyle.Render("save: "+err.Error()))
		return
	}
	if err := atomic.WriteFile(path, strings.NewReader(string(data))); err != nil {
		fmt.Fprintln(out, s.noteStyle.Render("save: "+err.Error()))
		return
	}
	fmt.Fprintln(out, s.noteStyle.Render("saved "+path))
}

func (s *chatSession) doRecall(out io.Writer, query string) {
	if s.recall == nil {
		fmt.Fprintln(out, s.noteStyle.Render("memory is disabled"))
		return
	}
	if query == "" {
		fmt.Fprintln(out, s.noteStyle.Render("usage: /recall <query>"))
		return
	}

	results, err := s.recall.Recall(s.ctx, query)
	if err != nil {
		fmt.Fprintln(out, s.noteStyle.Render("recall: "+err.Error()))
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(out, s.noteStyle.Render("nothing remembered yet"))
		return
	}
	for _, r := range results {
		fmt.Fprintf(out, "%s %s\n", s.promptStyle.Render(fmt.Sprintf("[%.2f]", r.Similarity)), r.Content)
	}
}
