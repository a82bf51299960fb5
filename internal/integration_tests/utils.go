package integrationtests

import (
	"context"
	"testing"
	"time"

	"lora-runner/internal/database"
	"lora-runner/internal/storage"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

// seedingStore is implemented by both store backends.
type seedingStore interface {
	database.Store
	CreateTask(ctx context.Context, task database.Task) error
	CreateModel(ctx context.Context, model database.Model) error
}

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

// setupMongoContainer starts a standalone server, which rejects transactions,
// so stores built on it write in the compensating order.
func setupMongoContainer(t *testing.T, ctx context.Context) string {
	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "Failed to start MongoDB container")

	t.Cleanup(func() {
		err := mongoContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MongoDB container")
	})

	connStr, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MongoDB connection string")

	return connStr
}

func createPostgresStore(t *testing.T, ctx context.Context) seedingStore {
	store, err := database.NewStore(ctx, setupPostgresContainer(t, ctx), "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) }) //nolint:errcheck

	gormStore, ok := store.(*database.GormStore)
	require.True(t, ok)
	return gormStore
}

func createMongoStore(t *testing.T, ctx context.Context) seedingStore {
	store, err := database.NewStore(ctx, setupMongoContainer(t, ctx), "AIv1")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) }) //nolint:errcheck

	mongoStore, ok := store.(*database.MongoStore)
	require.True(t, ok)
	return mongoStore
}

func createS3Provider(t *testing.T, ctx context.Context) *storage.S3Provider {
	provider, err := storage.NewS3Provider(storage.S3ProviderConfig{
		S3EndpointURL:     setupMinioContainer(t, ctx),
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	return provider
}
