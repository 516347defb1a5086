package tokenregistry

import (
	"database/sql"
	"errors"
	"time"
)

// Source names a Repository backend, mirroring the compliance blacklist
// source switch used elsewhere in this module's config.
type Source string

const (
	SourceYAML     Source = "yaml"
	SourcePostgres Source = "postgres"
	SourceMongoDB  Source = "mongodb"
)

// Options configures NewRepository. Exactly the fields relevant to the
// chosen Source need to be set.
type Options struct {
	Source Source

	YAMLPath string

	PostgresURL       string
	PostgresTableName string

	MongoDBURL        string
	MongoDBDatabase   string
	MongoDBCollection string

	CacheTTL time.Duration
}

// NewRepository builds a token deployment Repository from Options,
// wrapping it in a read-through cache when CacheTTL > 0. sharedDB lets
// callers reuse an existing Postgres pool instead of opening a new one;
// pass nil to have this function open its own.
func NewRepository(opts Options, sharedDB *sql.DB) (Repository, error) {
	source := opts.Source
	if source == "" {
		source = SourceYAML
	}

	var underlying Repository
	var err error

	switch source {
	case SourceYAML:
		underlying, err = NewYAMLRepository(opts.YAMLPath)
		if err != nil {
			return nil, err
		}
	case SourcePostgres:
		if opts.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("tokenregistry: postgres_url required when source is 'postgres'")
		}
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo, err = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			pgRepo, err = NewPostgresRepository(opts.PostgresURL)
		}
		if err != nil {
			return nil, err
		}
		if opts.PostgresTableName != "" {
			pgRepo, err = pgRepo.WithTableName(opts.PostgresTableName)
			if err != nil {
				return nil, err
			}
		}
		underlying = pgRepo
	case SourceMongoDB:
		if opts.MongoDBURL == "" || opts.MongoDBDatabase == "" {
			return nil, errors.New("tokenregistry: mongodb_url and mongodb_database required when source is 'mongodb'")
		}
		collection := opts.MongoDBCollection
		if collection == "" {
			collection = "token_deployments"
		}
		underlying, err = NewMongoDBRepository(opts.MongoDBURL, opts.MongoDBDatabase, collection)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("tokenregistry: invalid source: must be 'yaml', 'postgres', or 'mongodb'")
	}

	if opts.CacheTTL > 0 {
		return NewCachedRepository(underlying, opts.CacheTTL), nil
	}
	return underlying, nil
}
