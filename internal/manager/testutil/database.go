package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
	"github.com/code-sleuth/ike-rag/pkg/db"

	"github.com/joho/godotenv"
)

// SetupTestDB opens a migrated in-memory SQLite database.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.NewConnection(":memory:", "")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		database.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// SetupTestStore returns a SQL-backed store on a fresh in-memory database.
func SetupTestStore(t *testing.T) *vectorstore.SQLStore {
	t.Helper()
	return vectorstore.NewSQLStore(SetupTestDB(t).DB)
}

// SetupRemoteTestDB connects to the Turso database named in .env, skipping
// the test when no credentials are configured.
func SetupRemoteTestDB(t *testing.T) *db.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	_ = godotenv.Load("../../../.env")

	dbURL := os.Getenv("TURSO_DATABASE_URL")
	authToken := os.Getenv("TURSO_AUTH_TOKEN")
	if dbURL == "" || authToken == "" {
		t.Skip("Database environment variables not set - skipping integration test")
	}

	database, err := db.NewConnection(dbURL, authToken)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(context.Background()); err != nil {
		database.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// RecordExists reports whether collection holds a record with id.
func RecordExists(t *testing.T, database *db.DB, collection, id string) bool {
	t.Helper()
	var count int
	err := database.QueryRow(`SELECT COUNT(*) FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check if record exists: %v", err)
	}
	return count > 0
}

// GetRecordCount returns the number of records in collection.
func GetRecordCount(t *testing.T, database *db.DB, collection string) int {
	t.Helper()
	var count int
	err := database.QueryRow(`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get record count: %v", err)
	}
	return count
}
