//go:build integration

package auditlog

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"eventserver/pkg/infra"
)

func TestLog_RecordAndMigrateAgainstRealPostgres(t *testing.T) {
	ctx := context.Background()
	dbName, dbUser, dbPassword := "test", "admin", "123456"

	container, err := postgres.Run(ctx, "postgres:17.4",
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		postgres.WithDatabase(dbName),
		postgres.BasicWaitStrategies(),
	)
	defer func() {
		if e := testcontainers.TerminateContainer(container); e != nil {
			log.Fatalf("failed to terminate container: %s", e)
		}
	}()
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := infra.NewPostgresConnection(infra.PostgresConfig{
		Host: host, Port: port.Int(), User: dbUser, Password: dbPassword, DBName: dbName,
	})
	require.NoError(t, err)

	auditLog := New(db, &fakeLogger{})
	require.NoError(t, auditLog.Migrate())

	auditLog.Record(ctx, 4, 2, 1, 1, nil)

	var count int64
	require.NoError(t, db.Model(&ReloadEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
