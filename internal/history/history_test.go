package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/circadianlight/internal/circadian"
	"github.com/saaga0h/circadianlight/pkg/postgres"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	calls   []execCall
	execErr error
	rows    *sql.Rows
}

func (f *fakeDB) Connect(ctx context.Context) error { return nil }
func (f *fakeDB) Disconnect() error                 { return nil }

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return driver.RowsAffected(1), nil
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.rows == nil {
		return nil, errors.New("no rows prepared")
	}
	return f.rows, nil
}

func (f *fakeDB) HealthCheck(ctx context.Context) (*postgres.HealthStatus, error) {
	return &postgres.HealthStatus{Connected: true}, nil
}

func TestMigrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewStore(db).Migrate(context.Background()))

	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].query, "CREATE TABLE IF NOT EXISTS gamma_history")
}

func TestRecord(t *testing.T) {
	db := &fakeDB{}
	store := NewStore(db)

	reading := circadian.Reading{
		Hour:     20,
		Phase:    circadian.Dusk,
		Progress: 0.5,
		Gamma:    circadian.Triple{Red: 1, Green: 0.825, Blue: 0.725},
	}
	at := time.Date(2024, 3, 10, 20, 0, 0, 0, time.FixedZone("CET", 3600))

	entry, err := store.Record(context.Background(), "desk", reading, at)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, "desk", entry.Name)
	assert.Equal(t, time.UTC, entry.AppliedAt.Location())
	assert.True(t, entry.AppliedAt.Equal(at))

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	require.Len(t, args, 8)
	assert.Equal(t, entry.ID, args[0])
	assert.Equal(t, "dusk", args[2])
	assert.Equal(t, 0.825, args[4])
	assert.Equal(t, 20.0, args[6])
}

func TestRecord_WrapsErrors(t *testing.T) {
	boom := errors.New("connection reset")
	store := NewStore(&fakeDB{execErr: boom})

	_, err := store.Record(context.Background(), "desk", circadian.Reading{}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

// historyDriver serves a fixed result set to every query
type historyDriver struct{ data [][]driver.Value }

type historyConn struct{ data [][]driver.Value }

type historyRows struct {
	data [][]driver.Value
	idx  int
}

func (d historyDriver) Open(name string) (driver.Conn, error) { return &historyConn{data: d.data}, nil }

func (c *historyConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c *historyConn) Close() error              { return nil }
func (c *historyConn) Begin() (driver.Tx, error) { return nil, errors.New("not implemented") }

func (c *historyConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	return &historyRows{data: c.data}, nil
}

func (r *historyRows) Columns() []string {
	return []string{"id", "name", "phase", "red", "green", "blue", "hour", "applied_at"}
}
func (r *historyRows) Close() error { return nil }
func (r *historyRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.idx])
	r.idx++
	return nil
}

var registerHistoryDriver sync.Once

// queryRows runs a query against an in-memory driver returning data
func queryRows(t *testing.T, data [][]driver.Value) *sql.Rows {
	t.Helper()
	registerHistoryDriver.Do(func() {
		sql.Register("historytest", historyDriver{})
	})

	db, err := sql.Open("historytest", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Swap in the rows for this test; historyDriver itself is registered once
	var rows *sql.Rows
	require.NoError(t, conn.Raw(func(dc any) error {
		dc.(*historyConn).data = data
		return nil
	}))
	rows, err = conn.QueryContext(context.Background(), "SELECT")
	require.NoError(t, err)
	return rows
}

func TestRecent(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: queryRows(t, [][]driver.Value{
		{id.String(), "desk", "dusk", 1.0, 0.825, 0.725, 20.0, at},
		{uuid.New().String(), "desk", "day", 1.0, 1.0, 1.0, 12.0, at.Add(-8 * time.Hour)},
	})}

	entries, err := NewStore(db).Recent(context.Background(), "desk", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, circadian.Dusk, entries[0].Phase)
	assert.Equal(t, circadian.Triple{Red: 1, Green: 0.825, Blue: 0.725}, entries[0].Gamma)
	assert.Equal(t, 20.0, entries[0].Hour)
	assert.True(t, entries[0].AppliedAt.Equal(at))
	assert.Equal(t, circadian.Day, entries[1].Phase)

	require.Len(t, db.calls, 1)
	assert.Equal(t, []interface{}{"desk", 20}, db.calls[0].args, "limit defaults to 20")
}

func TestRecent_UnknownPhase(t *testing.T) {
	db := &fakeDB{rows: queryRows(t, [][]driver.Value{
		{uuid.New().String(), "desk", "noon", 1.0, 1.0, 1.0, 12.0, time.Now()},
	})}

	_, err := NewStore(db).Recent(context.Background(), "desk", 5)
	assert.Error(t, err)
}

func TestRecent_QueryError(t *testing.T) {
	_, err := NewStore(&fakeDB{}).Recent(context.Background(), "desk", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query gamma history")
}
