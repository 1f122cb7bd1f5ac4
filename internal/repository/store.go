package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories over one database handle, which may be a
// transaction.
type Store struct {
	db       *gorm.DB
	Datasets *DatasetRepository
	Uploads  *UploadRepository
	Jobs     *JobRepository
	Facts    *FactRepository
}

// NewStore creates a Store bound to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Datasets: NewDatasetRepository(db),
		Uploads:  NewUploadRepository(db),
		Jobs:     NewJobRepository(db),
		Facts:    NewFactRepository(db),
	}
}

// Transaction runs fn with a Store bound to a single transaction. Returning
// an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
