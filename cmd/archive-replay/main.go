// Command archive-replay republishes events from the drop archive to the
// Redis event stream, where a running forwarder picks them up again.
// Stop the forwarder that owns the archive directory before running it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/siem-forwarder/internal/adapter/repository/archive"
	redisrepo "github.com/V4T54L/siem-forwarder/internal/adapter/repository/redis"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
	"github.com/V4T54L/siem-forwarder/internal/pkg/logger"
)

const publishChunk = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	dir := flag.String("dir", cfg.Archive.Dir, "Drop archive directory")
	redisAddr := flag.String("redis", cfg.Source.RedisAddr, "Redis address or URL")
	stream := flag.String("stream", cfg.Source.Stream, "Target Redis stream")
	truncate := flag.Bool("truncate", true, "Remove the archive after a successful replay")
	dryRun := flag.Bool("dry-run", false, "Count archived events without publishing")
	flag.Parse()

	log := logger.New(cfg.LogLevel)

	if *dir == "" {
		log.Error("no archive directory given (-dir or DROP_ARCHIVE_DIR)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dropArchive, err := archive.NewDropArchive(*dir, cfg.Archive.SegmentSize, cfg.Archive.MaxDiskSize, log)
	if err != nil {
		log.Error("failed to open drop archive", "error", err)
		os.Exit(1)
	}
	defer dropArchive.Close()

	publish := func(ctx context.Context, events ...domain.SecurityEvent) error { return nil }
	if !*dryRun {
		if *redisAddr == "" {
			log.Error("no redis address given (-redis or REDIS_ADDR)")
			os.Exit(2)
		}
		client := redis.NewClient(redisOptions(*redisAddr))
		defer client.Close()

		target, err := redisrepo.NewEventStream(ctx, client, log, redisrepo.StreamConfig{Stream: *stream, Group: cfg.Source.Group})
		if err != nil {
			log.Error("failed to attach to redis stream", "error", err)
			os.Exit(1)
		}
		publish = target.Publish
	}

	total, err := replay(ctx, dropArchive, publish)
	if err != nil {
		log.Error("replay failed, archive left untouched", "error", err, "published", total)
		os.Exit(1)
	}
	log.Info("replay complete", "events", total, "dry_run", *dryRun)

	if *truncate && !*dryRun {
		if err := dropArchive.Truncate(ctx); err != nil {
			log.Error("failed to truncate archive", "error", err)
			os.Exit(1)
		}
	}
}

func replay(ctx context.Context, a *archive.DropArchive, publish func(context.Context, ...domain.SecurityEvent) error) (int, error) {
	var (
		chunk = make([]domain.SecurityEvent, 0, publishChunk)
		total int
	)
	flushChunk := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := publish(ctx, chunk...); err != nil {
			return fmt.Errorf("publish %d events: %w", len(chunk), err)
		}
		total += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	err := a.Replay(ctx, func(event domain.SecurityEvent) error {
		chunk = append(chunk, event)
		if len(chunk) == publishChunk {
			return flushChunk()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flushChunk()
}

func redisOptions(addr string) *redis.Options {
	if strings.Contains(addr, "://") {
		if opts, err := redis.ParseURL(addr); err == nil {
			return opts
		}
	}
	return &redis.Options{Addr: addr}
}
