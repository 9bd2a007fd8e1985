package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultSQLKey identifies the row SQLStore uses when none is given.
const DefaultSQLKey = "default"

// StoredTokens is the GORM model behind SQLStore.
type StoredTokens struct {
	Key          string `gorm:"column:store_key;primaryKey;size:128"`
	AccessToken  string `gorm:"type:text"`
	RefreshToken string `gorm:"type:text"`
	UpdatedAt    time.Time
}

func (StoredTokens) TableName() string { return "stored_tokens" }

// SQLStore keeps the pair in one row of the stored_tokens table.
type SQLStore struct {
	db  *gorm.DB
	key string
}

// NewSQLStore migrates the table and returns a store bound to key.
func NewSQLStore(db *gorm.DB, key string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("tokens: nil gorm db")
	}
	if key == "" {
		key = DefaultSQLKey
	}
	if err := db.AutoMigrate(&StoredTokens{}); err != nil {
		return nil, fmt.Errorf("tokens: migrate: %w", err)
	}
	return &SQLStore{db: db, key: key}, nil
}

func (s *SQLStore) Get(ctx context.Context) (Pair, error) {
	var row StoredTokens
	err := s.db.WithContext(ctx).Where("store_key = ?", s.key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Pair{}, nil
		}
		return Pair{}, fmt.Errorf("tokens: sql get: %w", err)
	}
	p := Pair{AccessToken: row.AccessToken, RefreshToken: row.RefreshToken}
	if !p.Valid() {
		return Pair{}, nil
	}
	return p, nil
}

func (s *SQLStore) Set(ctx context.Context, accessToken, refreshToken string) error {
	if err := checkPair(accessToken, refreshToken); err != nil {
		return err
	}
	row := StoredTokens{
		Key:          s.key,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UpdatedAt:    time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("tokens: sql upsert: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("store_key = ?", s.key).Delete(&StoredTokens{}).Error
	if err != nil {
		return fmt.Errorf("tokens: sql delete: %w", err)
	}
	return nil
}
