package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ClonedVoice is the gorm model backing the sqlite store.
type ClonedVoice struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:128"`
	SpeakerRef  string `gorm:"size:256"`
	Language    string `gorm:"size:16"`
	Description string
	SamplePath  string
	CreatedAt   time.Time
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a sqlite-backed store, migrating the schema on first use.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&ClonedVoice{}); err != nil {
		return nil, fmt.Errorf("migrate cloned_voices: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, rec Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ?", rec.Name).Delete(&ClonedVoice{}).Error; err != nil {
			return err
		}
		row := &ClonedVoice{
			Name:        rec.Name,
			SpeakerRef:  rec.SpeakerRef,
			Language:    rec.Language,
			Description: rec.Description,
			SamplePath:  rec.SamplePath,
			CreatedAt:   rec.CreatedAt,
		}
		return tx.Create(row).Error
	})
}

func (s *sqliteStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&ClonedVoice{}).Error
}

func (s *sqliteStore) Load(ctx context.Context) ([]Record, error) {
	var rows []ClonedVoice
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			Name:        row.Name,
			SpeakerRef:  row.SpeakerRef,
			Language:    row.Language,
			Description: row.Description,
			SamplePath:  row.SamplePath,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}

func (s *sqliteStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
