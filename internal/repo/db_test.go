package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-reviews/internal/domain"
)

// newRepoDB opens a migrated, isolated in-memory database.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustUser(t *testing.T, db *gorm.DB, name string) *domain.User {
	t.Helper()
	u := &domain.User{Username: name, Email: name + "@example.com", PasswordHash: "x", IsActive: true}
	if err := CreateUser(context.Background(), db, u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func mustMovie(t *testing.T, db *gorm.DB, title string) *domain.Movie {
	t.Helper()
	m := &domain.Movie{Title: title, Director: domain.DefaultDirector, Genres: []string{"Drama"}, IsActive: true}
	if err := CreateMovie(context.Background(), db, m); err != nil {
		t.Fatalf("create movie %s: %v", title, err)
	}
	return m
}

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_SetsPragmas_Pool_AndAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	var journalMode string
	if err := db.Raw("PRAGMA journal_mode;").Row().Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journalMode)
	}
	if stats := sqlDB.Stats(); stats.MaxOpenConnections != 10 {
		t.Fatalf("expected MaxOpenConnections=10, got %d", stats.MaxOpenConnections)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	m := db.Migrator()
	for _, tbl := range []any{&domain.User{}, &domain.Movie{}, &domain.Review{}, &domain.WatchlistEntry{}, &domain.Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
}

func TestOpen_SQLiteDriver_AndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	db, err := Open(context.Background(), OpenOptions{Driver: DriverSQLite, Path: path, Attempts: 2, Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := Close(db); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_UnsupportedDriver_FailsWithoutRetry(t *testing.T) {
	start := time.Now()
	_, err := Open(context.Background(), OpenOptions{Driver: "oracle", Attempts: 5, Delay: time.Second})
	if err == nil || !strings.Contains(err.Error(), "unsupported DB driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("unrecoverable error should not be retried")
	}
}

func TestOpen_MissingDirectory_FailsWithoutRetry(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "nope", "app.db")
	start := time.Now()
	if _, err := Open(context.Background(), OpenOptions{Driver: DriverSQLite, Path: bad, Attempts: 5, Delay: time.Second}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("missing directory should not be retried")
	}
}

func TestOpenPostgres_EmptyDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestIsDuplicate(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{ErrDuplicate, true},
		{fmt.Errorf("UNIQUE constraint failed: users.email"), true},
		{fmt.Errorf(`ERROR: duplicate key value violates unique constraint "ux_users_email"`), true},
		{fmt.Errorf("constraint failed: UNIQUE constraint failed (2067)"), true},
		{gorm.ErrRecordNotFound, false},
	}
	for _, c := range cases {
		if got := IsDuplicate(c.err); got != c.want {
			t.Fatalf("IsDuplicate(%v) = %v; want %v", c.err, got, c.want)
		}
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)) {
		t.Fatalf("IsNotFound should see wrapped ErrNotFound")
	}
}

// Compile-time guard to ensure signature stability.
var _ func(string) (*gorm.DB, error) = OpenSQLite
