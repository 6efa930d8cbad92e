// lampionsd is the relay daemon. It serves the management API and the SNS
// webhook, and optionally consumes receipt notifications from an SQS queue.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/lampions/lampions-go/internal/api"
	"github.com/lampions/lampions-go/internal/config"
	"github.com/lampions/lampions-go/internal/dedup"
	"github.com/lampions/lampions-go/internal/metrics"
	"github.com/lampions/lampions-go/internal/recipients"
	"github.com/lampions/lampions-go/internal/relay"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
	"github.com/lampions/lampions-go/internal/transport"
	"github.com/lampions/lampions-go/internal/trigger"
)

func main() {
	configPath := pflag.String("config", config.DefaultPath(), "path to the config file")
	pflag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid config")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load AWS config")
	}

	blob := store.NewS3(s3.NewFromConfig(awsCfg), cfg.Bucket())
	table := routes.NewTable(blob, cfg.Domain)
	recips := recipients.NewMap(blob, cfg.Domain)
	mailer := transport.NewSES(sesv2.NewFromConfig(awsCfg))
	m := metrics.NewRelay(prometheus.DefaultRegisterer)

	engine := relay.New(relay.Config{
		Domain:     cfg.Domain,
		Blob:       blob,
		Routes:     table,
		Recipients: recips,
		Mailer:     mailer,
		Identities: mailer,
		Metrics:    m,
	})

	deduper := connectDedup(ctx, cfg)

	server := api.NewServer(api.Config{
		Domain:         cfg.Domain,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, engine, table, recips, blob, deduper, m)

	var consumer *trigger.Consumer
	if cfg.Queue.URL != "" {
		consumer = trigger.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Queue.URL, engine, deduper, m)
		consumer.Start(ctx)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		logrus.WithFields(logrus.Fields{"addr": addr, "domain": cfg.Domain}).Info("Relay started")
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server error")
		}
	}()

	<-done
	logrus.Info("Shutting down")

	cancel()
	if consumer != nil {
		consumer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown error")
	}

	logrus.Info("Relay stopped")
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AWS.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AWS.AccessKeyID,
			cfg.AWS.SecretAccessKey,
			"", // session token (empty for static creds)
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// connectDedup connects to Redis when configured. The relay stays up
// without it: duplicate deliveries are then handled solely by the
// idempotent document writes.
func connectDedup(ctx context.Context, cfg *config.Config) *dedup.Redis {
	if cfg.Redis.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unreachable; duplicate suppression disabled")
		_ = client.Close()
		return nil
	}

	logrus.WithField("addr", cfg.Redis.Addr).Info("Duplicate suppression enabled")
	return dedup.NewRedis(client, cfg.Redis.DedupTTL())
}
