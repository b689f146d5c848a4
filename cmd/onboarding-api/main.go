// Package main provides the onboarding API server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fieldserv/onboarding/pkg/checkpoint"
	"github.com/fieldserv/onboarding/pkg/log"
	"github.com/fieldserv/onboarding/pkg/persistence/cached"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort       = 9091
	defaultStreamPort = 9092
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:                  "onboarding-api",
		Usage:                 "Run onboarding processes",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "stream-port",
				Usage:   "Port to serve websocket process streams on (0 disables)",
				Value:   defaultStreamPort,
				Sources: cli.EnvVars("STREAM_PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://path, postgres://..., redis://..., memory)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.IntFlag{
				Name:    "cache-size",
				Usage:   "Number of processes kept in the read cache for remote persistence (0 disables)",
				Value:   cached.DefaultSize,
				Sources: cli.EnvVars("CACHE_SIZE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "attachments-url",
				Usage:   "Attachment storage URL (file://path, s3://key:secret@host/bucket); empty disables uploads",
				Sources: cli.EnvVars("ATTACHMENTS_URL"),
			},
			&cli.StringFlag{
				Name:    "templates-path",
				Usage:   "Directory containing process templates",
				Value:   "./examples/templates",
				Sources: cli.EnvVars("TEMPLATES_PATH"),
			},
			&cli.StringFlag{
				Name:    "checkpoint-schedule",
				Usage:   "Cron schedule for saving changed processes",
				Value:   checkpoint.DefaultSchedule,
				Sources: cli.EnvVars("CHECKPOINT_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "save-on-change",
				Usage:   "Save each process right after every accepted change",
				Sources: cli.EnvVars("SAVE_ON_CHANGE"),
			},
			&cli.BoolFlag{
				Name:    "tracing-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			return run(ctx, config{
				Port:               command.Int("port"),
				StreamPort:         command.Int("stream-port"),
				DatabaseURL:        command.String("database-url"),
				CacheSize:          command.Int("cache-size"),
				EventBus:           command.String("event-bus"),
				KafkaBrokers:       command.String("kafka-brokers"),
				AttachmentsURL:     command.String("attachments-url"),
				TemplatesPath:      command.String("templates-path"),
				CheckpointSchedule: command.String("checkpoint-schedule"),
				SaveOnChange:       command.Bool("save-on-change"),
				TracingEnabled:     command.Bool("tracing-enabled"),
			})
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
