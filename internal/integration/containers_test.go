//go:build integration

package integration_test

import (
	"context"
	"log/slog"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/couchcryptid/quake-data-etl/internal/adapter/postgres"
	"github.com/couchcryptid/quake-data-etl/internal/adapter/s3"
	"github.com/couchcryptid/quake-data-etl/internal/config"
)

// startPostgres runs a throwaway warehouse and returns a migrated connection.
func startPostgres(ctx context.Context, t *testing.T) *gorm.DB {
	t.Helper()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dwh"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres")

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.Open(ctx, dsn, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = postgres.Close(db) })

	require.NoError(t, postgres.Migrate(ctx, db))
	return db
}

// startMinio runs an S3-compatible store and returns a store with its bucket
// created, plus the config pointing at it.
func startMinio(ctx context.Context, t *testing.T) (*s3.Store, *config.Config) {
	t.Helper()
	ctr, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start minio")

	endpoint, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		S3Endpoint:     "http://" + endpoint,
		S3Region:       "us-east-1",
		S3Bucket:       "prod",
		S3AccessKey:    ctr.Username,
		S3SecretKey:    ctr.Password,
		S3UsePathStyle: true,
		RawPrefix:      "raw/earthquake",
	}
	store, err := s3.NewStore(ctx, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))
	return store, cfg
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("quake-etl-test"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}
