package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store is the Job Record Store: every repository over one database handle.
type Store struct {
	*JobRepository
	*AssetRepository
	*ValidationRepository
	*RecordRepository
	*OrphanRepository

	db *gorm.DB
}

// NewStore binds all repositories to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		JobRepository:        NewJobRepository(db),
		AssetRepository:      NewAssetRepository(db),
		ValidationRepository: NewValidationRepository(db),
		RecordRepository:     NewRecordRepository(db),
		OrphanRepository:     NewOrphanRepository(db),
		db:                   db,
	}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
