//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"catalogsync/internal/domain/library"
	"catalogsync/internal/domain/link"
	"catalogsync/internal/infrastructure/sqlstore"
)

const postgresImage = "postgres:16-alpine"

func startPostgres(t *testing.T) *sqlstore.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "catalogsync",
			"POSTGRES_PASSWORD": "catalogsync",
			"POSTGRES_DB":       "catalogsync",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=catalogsync password=catalogsync dbname=catalogsync sslmode=disable", host, port.Port())
	db, err := Open(ctx, dsn, Options{MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrate is idempotent")
	return db
}

func TestPostgres_ItemsAndLinks(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	items := sqlstore.NewItemRepository(db)
	links := sqlstore.NewLinkRepository(db)

	_, err := links.Link(ctx, link.LinkParams{UserID: "u1", AccountID: "acct-1", DisplayName: "one"})
	require.NoError(t, err)
	_, err = links.Link(ctx, link.LinkParams{UserID: "u2", AccountID: "acct-1"})
	assert.ErrorIs(t, err, link.ErrAccountAlreadyLinked)

	synced := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	batch := []library.UpsertItem{
		{Name: "Dota 2", AppID: 570, UsageMinutes: 100},
		{Name: "Portal", AppID: 400, UsageMinutes: 5},
		{Name: "Dota 2", AppID: 570, UsageMinutes: 120},
	}
	n, err := items.UpsertItems(ctx, "acct-1", batch, synced)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = items.UpsertItems(ctx, "acct-1", batch[:1], synced.Add(time.Hour))
	require.NoError(t, err)

	got, err := items.ListItems(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].UsageMinutes, "overwritten, not accumulated")
	assert.True(t, got[0].LastSyncedAt.Equal(synced.Add(time.Hour)))

	accounts, err := links.ListAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-1"}, accounts)
}

func TestPostgres_LargeBatchSpansChunks(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	items := sqlstore.NewItemRepository(db)

	batch := make([]library.UpsertItem, 450)
	for i := range batch {
		batch[i] = library.UpsertItem{Name: fmt.Sprintf("item-%03d", i), AppID: int64(i), UsageMinutes: int64(i)}
	}

	n, err := items.UpsertItems(ctx, "acct-big", batch, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 450, n)

	got, err := items.ListItems(ctx, "acct-big")
	require.NoError(t, err)
	assert.Len(t, got, 450)
}

func TestPostgres_FailureInLaterChunkRollsBack(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	items := sqlstore.NewItemRepository(db)

	synced := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	_, err := items.UpsertItems(ctx, "acct-1", []library.UpsertItem{{Name: "Portal", AppID: 400, UsageMinutes: 3}}, synced)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		CREATE FUNCTION reject_poison() RETURNS trigger AS $$
		BEGIN
			IF NEW.name = 'poison' THEN
				RAISE EXCEPTION 'rejected';
			END IF;
			RETURN NEW;
		END
		$$ LANGUAGE plpgsql`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TRIGGER reject_poison BEFORE INSERT ON items FOR EACH ROW EXECUTE FUNCTION reject_poison()`)
	require.NoError(t, err)

	batch := []library.UpsertItem{{Name: "Portal", AppID: 400, UsageMinutes: 99}}
	for i := range 250 {
		batch = append(batch, library.UpsertItem{Name: fmt.Sprintf("item-%03d", i), AppID: int64(i), UsageMinutes: int64(i)})
	}
	batch = append(batch, library.UpsertItem{Name: "poison", AppID: 1, UsageMinutes: 1})

	_, err = items.UpsertItems(ctx, "acct-1", batch, synced.Add(time.Hour))
	var perr *library.PersistenceError
	require.ErrorAs(t, err, &perr)

	got, err := items.ListItems(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].UsageMinutes)
	assert.True(t, got[0].LastSyncedAt.Equal(synced))
}
