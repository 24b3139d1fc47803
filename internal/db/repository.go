package db

import (
	"context"
	"errors"

	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tweetarchive/tweets/internal/models"
)

// batchSize bounds the rows of one insert statement
const batchSize = 200

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// RecordRepository provides record-related database operations
type RecordRepository struct {
	*Repository
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(repo *Repository) *RecordRepository {
	return &RecordRepository{Repository: repo}
}

// Upsert writes records, replacing rows with the same id
func (r *RecordRepository) Upsert(ctx context.Context, records []*models.Record) error {
	var errs error
	rows := make([]*RecordRow, 0, len(records))
	for _, rec := range records {
		row, err := NewRecordRow(rec)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return errs
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error
	return multierr.Append(errs, err)
}

// GetByID retrieves a record by id
func (r *RecordRepository) GetByID(ctx context.Context, id int64) (*models.Record, error) {
	var row RecordRow
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.Record()
}

// List retrieves records in ascending id order
func (r *RecordRepository) List(ctx context.Context, limit, offset int) ([]*models.Record, error) {
	var rows []*RecordRow
	if err := r.db.WithContext(ctx).Order("id ASC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountByRepostedUser counts reposts per reposted handle
func (r *RecordRepository) CountByRepostedUser(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		RT    string
		Total int64
	}
	err := r.db.WithContext(ctx).Model(&RecordRow{}).
		Select("rt, COUNT(*) AS total").
		Where("rt <> ''").
		Group("rt").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.RT] = row.Total
	}
	return out, nil
}

// Count returns the number of stored records
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&RecordRow{}).Count(&n).Error
	return n, err
}

// UserRepository provides user-related database operations
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(repo *Repository) *UserRepository {
	return &UserRepository{Repository: repo}
}

// Upsert writes users, replacing rows with the same screen name
func (r *UserRepository) Upsert(ctx context.Context, users models.Users) error {
	var errs error
	rows := make([]*UserRow, 0, len(users))
	for _, u := range users.Sorted() {
		row, err := NewUserRow(u)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return errs
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error
	return multierr.Append(errs, err)
}

// GetByScreenName retrieves a user by handle
func (r *UserRepository) GetByScreenName(ctx context.Context, screenName string) (*UserRow, error) {
	var row UserRow
	if err := r.db.WithContext(ctx).Where("screen_name = ?", screenName).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Export writes a run's records and users in one transaction
func (d *DB) Export(ctx context.Context, records []*models.Record, users models.Users) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if err := NewRecordRepository(repo).Upsert(ctx, records); err != nil {
			return err
		}
		return NewUserRepository(repo).Upsert(ctx, users)
	})
}
