package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"govault/models"
	"govault/vault"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return store
}

func TestStoreUpsertAndFindClient(t *testing.T) {
	store := testStore(t)

	client := models.Client{
		ID:         models.NewClientID(),
		Name:       "laptop",
		PublicKey:  []byte("public key bytes"),
		SessionKey: []byte("0123456789abcdef"),
		LastSeen:   time.Now().Truncate(time.Millisecond),
	}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	found, err := store.FindClient(client.ID)
	if err != nil {
		t.Fatalf("FindClient failed: %v", err)
	}
	if found.Name != client.Name {
		t.Fatalf("name = %q, want %q", found.Name, client.Name)
	}
	if !bytes.Equal(found.PublicKey, client.PublicKey) || !bytes.Equal(found.SessionKey, client.SessionKey) {
		t.Fatalf("key material round trip mismatch")
	}
	if !found.LastSeen.Equal(client.LastSeen) {
		t.Fatalf("last seen = %v, want %v", found.LastSeen, client.LastSeen)
	}

	byName, err := store.FindClientByName("laptop")
	if err != nil {
		t.Fatalf("FindClientByName failed: %v", err)
	}
	if byName.ID != client.ID {
		t.Fatalf("lookup by name returned wrong client")
	}
}

func TestStoreFindClientNotFound(t *testing.T) {
	store := testStore(t)

	if _, err := store.FindClient(models.NewClientID()); !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindClientByName("nobody"); !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreUpsertReplacesExistingClient(t *testing.T) {
	store := testStore(t)

	client := models.Client{ID: models.NewClientID(), Name: "desktop", LastSeen: time.Now()}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	client.SessionKey = []byte("fresh session key")
	client.LastSeen = client.LastSeen.Add(time.Minute)
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient (replace) failed: %v", err)
	}

	found, err := store.FindClient(client.ID)
	if err != nil {
		t.Fatalf("FindClient failed: %v", err)
	}
	if !bytes.Equal(found.SessionKey, client.SessionKey) {
		t.Fatalf("upsert must replace the session key")
	}
}

func TestStoreNullableKeysRoundTrip(t *testing.T) {
	store := testStore(t)

	client := models.Client{ID: models.NewClientID(), Name: "bare", LastSeen: time.Now()}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	found, err := store.FindClient(client.ID)
	if err != nil {
		t.Fatalf("FindClient failed: %v", err)
	}
	if len(found.PublicKey) != 0 || len(found.SessionKey) != 0 {
		t.Fatalf("absent keys must come back empty")
	}
}

func TestStoreRecordAndFindFile(t *testing.T) {
	store := testStore(t)

	client := models.Client{ID: models.NewClientID(), Name: "laptop", LastSeen: time.Now()}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	file := models.File{
		ClientID:   client.ID,
		Filename:   "backup.tar",
		Size:       1 << 20,
		Checksum:   0xDEADBEEF,
		StoredPath: "/data/files/backup.tar",
		ReceivedAt: time.Now().Truncate(time.Millisecond),
	}
	if err := store.RecordFile(file); err != nil {
		t.Fatalf("RecordFile failed: %v", err)
	}

	found, err := store.FindFile(client.ID, "backup.tar")
	if err != nil {
		t.Fatalf("FindFile failed: %v", err)
	}
	if found.Size != file.Size || found.Checksum != file.Checksum || found.StoredPath != file.StoredPath {
		t.Fatalf("file record round trip mismatch: %+v", found)
	}
	if !found.ReceivedAt.Equal(file.ReceivedAt) {
		t.Fatalf("received at = %v, want %v", found.ReceivedAt, file.ReceivedAt)
	}

	if _, err := store.FindFile(client.ID, "missing.tar"); !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRecordFileSupersedes(t *testing.T) {
	store := testStore(t)

	client := models.Client{ID: models.NewClientID(), Name: "laptop", LastSeen: time.Now()}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}

	file := models.File{ClientID: client.ID, Filename: "notes.txt", Size: 10, Checksum: 1, ReceivedAt: time.Now()}
	if err := store.RecordFile(file); err != nil {
		t.Fatalf("RecordFile failed: %v", err)
	}

	file.Size = 20
	file.Checksum = 2
	if err := store.RecordFile(file); err != nil {
		t.Fatalf("RecordFile (replace) failed: %v", err)
	}

	found, err := store.FindFile(client.ID, "notes.txt")
	if err != nil {
		t.Fatalf("FindFile failed: %v", err)
	}
	if found.Size != 20 || found.Checksum != 2 {
		t.Fatalf("re-sent file must supersede the old record: %+v", found)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	store, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	client := models.Client{ID: models.NewClientID(), Name: "durable", LastSeen: time.Now()}
	if err := store.UpsertClient(client); err != nil {
		t.Fatalf("UpsertClient failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	found, err := reopened.FindClient(client.ID)
	if err != nil {
		t.Fatalf("FindClient after reopen failed: %v", err)
	}
	if found.Name != "durable" {
		t.Fatalf("record must survive reopen")
	}
}

func TestOpenCreatesDataDirectory(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")

	store, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if filepath.Dir(dbPath) != dataDir {
		t.Fatalf("database path %q not under %q", dbPath, dataDir)
	}
}
