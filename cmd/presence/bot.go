package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"presence-lab/client"
	"presence-lab/domain/event"
	"presence-lab/infrastructure/websocket"
	"presence-lab/protocol"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

type BotConfig struct {
	URL      string        `envconfig:"BOT_URL" default:"ws://localhost:8765/ws"`
	Count    int           `envconfig:"BOT_COUNT" default:"10"`
	Interval time.Duration `envconfig:"BOT_INTERVAL" default:"200ms"`
	LogLevel string        `envconfig:"LOG_LEVEL" default:"INFO"`
	// BOT_COLOURS enables colorized join/leave lines
	Colours bool `envconfig:"BOT_COLOURS" default:"true"`
}

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Connect simulated participants to a presence server",
		Long: `Open BOT_COUNT websocket clients against BOT_URL, each walking in a circle
and sending a position every BOT_INTERVAL. Stops on Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var config BotConfig
			if err := envconfig.Process("", &config); err != nil {
				return configError{err}
			}
			if config.Count <= 0 || config.Interval <= 0 {
				return configError{fmt.Errorf("BOT_COUNT and BOT_INTERVAL must be positive")}
			}
			return runBots(cmd.Context(), config)
		},
	}
}

func runBots(parent context.Context, config BotConfig) error {
	log := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < config.Count; i++ {
		channel, err := websocket.Dial(ctx, config.URL, nil)
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("dial %s: %w", config.URL, err)
		}

		id := "bot-" + uuid.NewString()[:8]
		bot := client.NewBot(log, id, fmt.Sprintf("Bot %d", i+1), channel, config.Interval)
		// One bot is enough to report what everybody sees
		if i == 0 {
			bot.OnMessage(printer(config.Colours))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := bot.Run(ctx)
			switch {
			case err == nil:
			case websocket.IsUnexpectedClose(err):
				log.Warn("Bot connection broken", "id", bot.ID(), "err", err)
			default:
				log.Info("Bot stopped", "id", bot.ID(), "err", err)
			}
		}()
	}

	log.Info("Bots connected", "count", config.Count, "url", config.URL)
	wg.Wait()
	return nil
}

func printer(colours bool) func(protocol.ServerMessage) {
	render := func(c color.Color, s string) string {
		if !colours {
			return s
		}
		return c.Render(s)
	}
	return func(msg protocol.ServerMessage) {
		at := time.Now().Format(time.TimeOnly)
		switch msg.Type {
		case event.PlayerJoinedType:
			fmt.Println(at, render(color.FgGreen, "+ joined"), msg.ID)
		case event.PlayerLeftType:
			fmt.Println(at, render(color.FgRed, "- left  "), msg.ID)
		}
	}
}
