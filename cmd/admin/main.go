package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"swapgogo/backend/internal/config"
	"swapgogo/backend/internal/models"
	"swapgogo/backend/internal/storage"
	"swapgogo/backend/internal/swap"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usage = `Usage: admin <command> [args]

Commands:
  sweep                     expire elapsed swaps and stale requests
  cleanup                   sweep and clear every pending request
  reset <chat_id>           end any swap or request in the chat
  state <chat_id> <user_id> print the user's identity in the chat`

// brokerNotifier publishes engine events to Redis so that connected clients
// of the running servers see what the operator changed.
type brokerNotifier struct {
	store *storage.Service
	log   zerolog.Logger
}

func (n brokerNotifier) PublishToChat(ctx context.Context, chatID string, ev models.Event) {
	n.publish(ctx, storage.ChatChannel(chatID), ev)
}

func (n brokerNotifier) PublishToUser(ctx context.Context, userID string, ev models.Event) {
	n.publish(ctx, storage.UserChannel(userID), ev)
}

func (n brokerNotifier) publish(ctx context.Context, channel string, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = n.store.PublishEvent(ctx, channel, payload)
	}
	if err != nil {
		n.log.Warn().Err(err).Str("channel", channel).Str("event", ev.Type).Msg("Event not delivered")
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	db, err := storage.OpenDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := storage.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	store := storage.NewStorageService(db, rdb)
	engine := swap.NewEngine(store, brokerNotifier{store: store, log: logger}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := run(ctx, engine, os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg(os.Args[1] + " failed")
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}

func run(ctx context.Context, engine *swap.Engine, args []string) (any, error) {
	switch args[0] {
	case "sweep":
		return engine.Sweep(ctx)
	case "cleanup":
		return engine.Cleanup(ctx)
	case "reset":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: admin reset <chat_id>")
		}
		return engine.Reset(ctx, args[1])
	case "state":
		if len(args) != 3 {
			return nil, fmt.Errorf("usage: admin state <chat_id> <user_id>")
		}
		return engine.State(ctx, args[1], args[2])
	default:
		fmt.Println(usage)
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
}
