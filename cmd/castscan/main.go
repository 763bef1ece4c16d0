package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "castscan",
		Usage:   "follow-graph spam scanner daemon",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "graph-host",
			Usage:   "method, hostname, and port of the follow-graph provider",
			Value:   "https://api.neynar.com",
			EnvVars: []string{"CASTSCAN_GRAPH_HOST"},
		},
		&cli.StringFlag{
			Name:    "graph-api-key",
			Usage:   "API key for the follow-graph provider",
			EnvVars: []string{"CASTSCAN_GRAPH_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "moderation-host",
			Usage:   "method, hostname, and port of the moderation-scoring provider",
			Value:   "https://api.mbd.xyz",
			EnvVars: []string{"CASTSCAN_MODERATION_HOST"},
		},
		&cli.StringFlag{
			Name:    "moderation-api-key",
			Usage:   "API key for the moderation-scoring provider",
			EnvVars: []string{"CASTSCAN_MODERATION_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for the score cache; in-memory cache when empty",
			EnvVars: []string{"CASTSCAN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the HTTP API",
			Value:   ":8200",
			EnvVars: []string{"CASTSCAN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":8201",
			EnvVars: []string{"CASTSCAN_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "scan-timeout",
			Usage:   "upper bound on one whole scan",
			Value:   10 * time.Minute,
			EnvVars: []string{"CASTSCAN_SCAN_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "score-cache-ttl",
			Usage:   "how long cached moderation scores stay fresh",
			Value:   time.Hour,
			EnvVars: []string{"CASTSCAN_SCORE_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "threshold-overrides",
			Usage:   "JSON object of category to cutoff, overriding defaults per category",
			EnvVars: []string{"CASTSCAN_THRESHOLD_OVERRIDES"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		configOTEL("castscan")

		var overrides map[string]float64
		if raw := cctx.String("threshold-overrides"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
				return fmt.Errorf("parsing threshold-overrides: %w", err)
			}
		}

		srv, err := NewServer(Config{
			GraphHost:          cctx.String("graph-host"),
			GraphAPIKey:        cctx.String("graph-api-key"),
			ModerationHost:     cctx.String("moderation-host"),
			ModerationAPIKey:   cctx.String("moderation-api-key"),
			RedisURL:           cctx.String("redis-url"),
			Bind:               cctx.String("bind"),
			ScanTimeout:        cctx.Duration("scan-timeout"),
			ScoreCacheTTL:      cctx.Duration("score-cache-ttl"),
			ThresholdOverrides: overrides,
			Logger:             logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				logger.Error("metrics listener failed", "err", err)
			}
		}()

		return srv.RunAPI()
	},
}
