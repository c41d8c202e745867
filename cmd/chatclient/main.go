package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"floorchat/internal/chatclient"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type clientConfig struct {
	BaseURL        string        `env:"CHAT_BASE_URL"        envDefault:"http://localhost:8085"`
	SessionToken   string        `env:"CHAT_SESSION_TOKEN"`
	MaxReconnects  int           `env:"CHAT_MAX_RECONNECTS"  envDefault:"5"`
	ReconnectDelay time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"5s"`
	ErrorTTL       time.Duration `env:"CHAT_ERROR_TTL"       envDefault:"5s"`
	Debug          bool          `env:"CHAT_DEBUG"`
}

func main() {
	_ = godotenv.Load(".env")

	var cfg clientConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger, _ := zap.NewDevelopment()
		defer logger.Sync()
		zap.ReplaceGlobals(logger)
	}

	if cfg.SessionToken == "" {
		token, err := promptToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, "session token:", err)
			os.Exit(1)
		}
		cfg.SessionToken = token
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := newScreen(os.Stdout)
	client, err := chatclient.New(chatclient.Config{
		BaseURL:        cfg.BaseURL,
		SessionToken:   cfg.SessionToken,
		MaxReconnects:  cfg.MaxReconnects,
		ReconnectDelay: cfg.ReconnectDelay,
		ErrorTTL:       cfg.ErrorTTL,
		OnChange:       ui.poke,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	go ui.run(ctx, client)

	if err := client.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()
	runREPL(client, bufio.NewScanner(os.Stdin), ui.println)
	_ = client.Close()
}

// promptToken reads the session token without echo when stdin is a terminal.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		return strings.TrimSpace(line), err
	}
	fmt.Fprint(os.Stdout, "Session token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stdout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
