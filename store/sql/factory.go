package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed stores from a single bun
// connection. It accepts either a *bun.DB or anything exposing one, such
// as a persistence client.
type RepositoryFactory struct {
	db *bun.DB

	directoryStore *DirectoryStore
	cacheStore     *CacheStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.directoryStore != nil && f.cacheStore != nil {
		return nil
	}
	directoryStore, err := NewDirectoryStore(f.db)
	if err != nil {
		return err
	}
	cacheStore, err := NewCacheStore(f.db)
	if err != nil {
		return err
	}
	f.directoryStore = directoryStore
	f.cacheStore = cacheStore
	return nil
}

func (f *RepositoryFactory) DirectoryStore() *DirectoryStore {
	if f == nil {
		return nil
	}
	return f.directoryStore
}

func (f *RepositoryFactory) CacheStore() *CacheStore {
	if f == nil {
		return nil
	}
	return f.cacheStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
