package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"floorchat/internal/chatclient"
	"floorchat/internal/store"
)

// chatIface is the part of chatclient.Client the REPL drives; tests stub it.
type chatIface interface {
	Send(content string) error
	Delete(messageID string) error
}

// runREPL reads lines until EOF or /quit. Plain lines are sent as messages.
//
//	/delete <id>   delete a message
//	/help          show commands
//	/quit          leave
func runREPL(c chatIface, scanner *bufio.Scanner, say func(a ...any)) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := c.Send(line); err != nil {
				say("!", err)
			}
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "/delete", "/d":
			if len(parts) != 2 {
				say("usage: /delete <message id>")
				continue
			}
			if err := c.Delete(parts[1]); err != nil {
				say("!", err)
			}
		case "/help":
			say("type to chat; commands: /delete <id>, /quit")
		case "/quit", "/exit":
			say("Bye!")
			return
		default:
			say("unknown command:", parts[0])
		}
	}
}

// screen prints what changed since the last redraw: new and deleted
// messages, state transitions and errors.
type screen struct {
	mu      sync.Mutex
	w       io.Writer
	wake    chan struct{}
	shown   map[string]store.ChatMessage
	state   chatclient.State
	lastErr string
}

func newScreen(w io.Writer) *screen {
	return &screen{
		w:     w,
		wake:  make(chan struct{}, 1),
		shown: map[string]store.ChatMessage{},
	}
}

func (s *screen) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *screen) println(a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, a...)
}

type viewSource interface {
	Messages() []store.ChatMessage
	State() chatclient.State
	LastError() string
}

func (s *screen) run(ctx context.Context, src viewSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.render(src)
		}
	}
}

func (s *screen) render(src viewSource) {
	msgs := src.Messages()
	state, lastErr := src.State(), src.LastError()

	s.mu.Lock()
	defer s.mu.Unlock()

	if state != s.state {
		fmt.Fprintf(s.w, "-- %s\n", state)
		s.state = state
	}
	present := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		present[m.ID] = struct{}{}
		if _, ok := s.shown[m.ID]; ok {
			continue
		}
		s.shown[m.ID] = m
		fmt.Fprintf(s.w, "[%s] %s: %s  (%s)\n", m.CreatedAt.Local().Format("15:04"), m.Author.Name, m.Content, m.ID)
	}
	for id, m := range s.shown {
		if _, ok := present[id]; !ok {
			delete(s.shown, id)
			fmt.Fprintf(s.w, "-- message by %s deleted (%s)\n", m.Author.Name, id)
		}
	}
	if lastErr != s.lastErr {
		if lastErr != "" {
			fmt.Fprintf(s.w, "! %s\n", lastErr)
		}
		s.lastErr = lastErr
	}
}
