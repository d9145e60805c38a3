package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Manager owns the Mongo connection and hands out collection handles.
type Manager struct {
	client *mongo.Client
	dbName string
	mu     sync.RWMutex
	dbs    map[string]*mongo.Database
}

// NewManager connects to MongoDB and returns a manager for the configured
// database.
func NewManager(mongoURI, dbName string) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Manager{
		client: client,
		dbName: dbName,
		dbs:    make(map[string]*mongo.Database),
	}, nil
}

// NewManagerFromClient wraps an already-connected client.
func NewManagerFromClient(client *mongo.Client, dbName string) *Manager {
	return &Manager{
		client: client,
		dbName: dbName,
		dbs:    make(map[string]*mongo.Database),
	}
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	m.mu.RLock()
	if db, ok := m.dbs[m.dbName]; ok {
		m.mu.RUnlock()
		return db
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	db := m.client.Database(m.dbName)
	m.dbs[m.dbName] = db
	return db
}

// Passages returns the passage vector-store collection.
func (m *Manager) Passages() *mongo.Collection {
	return m.Database().Collection("passages")
}

// TocEntries returns the TOC entry collection.
func (m *Manager) TocEntries() *mongo.Collection {
	return m.Database().Collection("toc_entries")
}

// Close disconnects the underlying client.
func (m *Manager) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
