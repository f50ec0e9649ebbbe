// Package vault implements the protocol engine: the per-connection session
// state machine, the transfer manager, and the registry contract the engine
// persists client and file metadata through.
package vault

import (
	"errors"
	"sync"

	"govault/models"
)

// ErrNotFound indicates the registry holds no record for the identifier or name.
var ErrNotFound = errors.New("vault: record not found")

// Registry is the persistent store of client identities and file records.
//
// Implementations must make each operation atomic with respect to a single
// client identifier; no cross-identifier transaction is ever required.
type Registry interface {
	FindClient(id models.ClientID) (models.Client, error)
	FindClientByName(name string) (models.Client, error)
	UpsertClient(client models.Client) error
	RecordFile(file models.File) error
}

// FileStore persists the cleartext contents of a completed transfer and
// returns the stored path.
type FileStore interface {
	Save(id models.ClientID, filename string, data []byte) (string, error)
}

// MemoryRegistry is an in-memory Registry, used in tests and as a fallback
// when no database is configured.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clients map[models.ClientID]models.Client
	files   map[models.ClientID]map[string]models.File
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		clients: make(map[models.ClientID]models.Client),
		files:   make(map[models.ClientID]map[string]models.File),
	}
}

// FindClient returns the client registered under id.
func (r *MemoryRegistry) FindClient(id models.ClientID) (models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	if !ok {
		return models.Client{}, ErrNotFound
	}
	return cloneClient(client), nil
}

// FindClientByName returns the client registered under name.
func (r *MemoryRegistry) FindClientByName(name string) (models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, client := range r.clients {
		if client.Name == name {
			return cloneClient(client), nil
		}
	}
	return models.Client{}, ErrNotFound
}

// UpsertClient creates or replaces the record for the client's identifier.
func (r *MemoryRegistry) UpsertClient(client models.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = cloneClient(client)
	return nil
}

// RecordFile creates or supersedes the file record for (client, filename).
func (r *MemoryRegistry) RecordFile(file models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.files[file.ClientID]
	if !ok {
		byName = make(map[string]models.File)
		r.files[file.ClientID] = byName
	}
	byName[file.Filename] = file
	return nil
}

// FindFile returns the file record for (id, filename).
func (r *MemoryRegistry) FindFile(id models.ClientID, filename string) (models.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[id][filename]
	if !ok {
		return models.File{}, ErrNotFound
	}
	return file, nil
}

func cloneClient(client models.Client) models.Client {
	out := client
	out.PublicKey = append([]byte(nil), client.PublicKey...)
	out.SessionKey = append([]byte(nil), client.SessionKey...)
	if client.PublicKey == nil {
		out.PublicKey = nil
	}
	if client.SessionKey == nil {
		out.SessionKey = nil
	}
	return out
}
