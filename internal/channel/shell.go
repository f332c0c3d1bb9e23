package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"repp/internal/domain"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
)

// ShellChannel is the destination every console event and reply uses.
const ShellChannel = "shell"

var shellMention = regexp.MustCompile(`@(\w+)`)

// LineReader yields one input line per call and io.EOF at the end.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Shell is a line-oriented console: each line is one message event and
// replies are printed to the output stream.
type Shell struct {
	in     LineReader
	out    io.Writer
	outMu  sync.Mutex
	user   domain.User
	logger *slog.Logger
}

// ShellConfig configures the console. A nil In reads stdin, through
// readline when stdin is a terminal.
type ShellConfig struct {
	In     LineReader
	Out    io.Writer
	User   string
	Prompt string
	Logger *slog.Logger
}

func NewShell(cfg ShellConfig) (*Shell, error) {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.User == "" {
		cfg.User = "you"
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "repp> "
	}
	if cfg.In == nil {
		in, err := stdinReader(cfg.Prompt)
		if err != nil {
			return nil, err
		}
		cfg.In = in
	}
	return &Shell{
		in:     cfg.In,
		out:    cfg.Out,
		user:   domain.User{ID: cfg.User, Name: cfg.User},
		logger: cfg.Logger,
	}, nil
}

func stdinReader(prompt string) (LineReader, error) {
	if readline.IsTerminal(int(os.Stdin.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          prompt,
			InterruptPrompt: "^C",
			EOFPrompt:       "/quit",
		})
		if err != nil {
			return nil, fmt.Errorf("readline: %w", err)
		}
		return rl, nil
	}
	return NewLineReader(os.Stdin), nil
}

func (s *Shell) Name() string { return ShellChannel }

// Start reads lines until EOF, /quit or ctx is done. Lines are handled
// one at a time on the calling goroutine. Cancelling ctx closes the reader
// so a pending read returns.
func (s *Shell) Start(ctx context.Context, handler domain.EventHandler) error {
	var closeOnce sync.Once
	closeIn := func() { closeOnce.Do(func() { _ = s.in.Close() }) }
	defer closeIn()

	stop := context.AfterFunc(ctx, closeIn)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := s.in.Readline()
		if err != nil && ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			s.logger.Info("user requested quit")
			return nil
		}

		if err := handler.Process(ctx, s.receive(line)); err != nil {
			s.logger.Error("shell message handling failed", "err", err)
		}
	}
}

// Stop is a no-op; Start returns on EOF or context cancellation.
func (s *Shell) Stop() error { return nil }

// receive builds the event for one line. The first @word is the reply
// target; console input is never from a bot.
func (s *Shell) receive(line string) *domain.Receive {
	replyTo := []string{}
	if m := shellMention.FindStringSubmatch(line); m != nil {
		replyTo = append(replyTo, m[1])
	}
	user := s.user
	return &domain.Receive{
		ID:        uuid.NewString(),
		Body:      line,
		Sender:    &user,
		Channel:   ShellChannel,
		Type:      "message",
		Timestamp: time.Now().Format(time.RFC3339),
		ReplyTo:   replyTo,
		IsBot:     false,
	}
}

// SendMessage prints the reply. Attachments are rendered as indented lines.
func (s *Shell) SendMessage(_ context.Context, msg domain.OutgoingMessage) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	var b strings.Builder
	b.WriteString(msg.Text)
	b.WriteByte('\n')
	for _, a := range msg.Attachments {
		text := a.Text
		if text == "" {
			text = a.Fallback
		}
		if a.Title != "" {
			fmt.Fprintf(&b, "  [%s] %s\n", a.Title, text)
		} else if text != "" {
			fmt.Fprintf(&b, "  %s\n", text)
		}
	}
	_, err := io.WriteString(s.out, b.String())
	return err
}

// scannerReader adapts any io.Reader to LineReader.
type scannerReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewLineReader reads newline-separated lines from r.
func NewLineReader(r io.Reader) LineReader {
	sr := &scannerReader{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok && r != os.Stdin {
		sr.closer = c
	}
	return sr
}

func (r *scannerReader) Readline() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
