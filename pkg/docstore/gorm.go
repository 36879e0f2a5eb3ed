package docstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

// JSONFields custom type for handling JSON serialization of document fields.
type JSONFields Fields

// Value implements the driver.Valuer interface for database serialization.
func (j JSONFields) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("JSONFields Value error: %w", err)
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (j *JSONFields) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("JSONFields Scan error: expected []byte, got %T", value)
	}
	return json.Unmarshal(b, (*Fields)(j))
}

// DocumentRecord is the row backing one document.
type DocumentRecord struct {
	Collection string     `gorm:"primaryKey;size:512"`
	ID         string     `gorm:"primaryKey;size:128"`
	Data       JSONFields `gorm:"type:text;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName sets the table used for documents.
func (DocumentRecord) TableName() string {
	return "documents"
}

func (r *DocumentRecord) document() *Document {
	return &Document{
		Ref:        DocRef{Collection: r.Collection, ID: r.ID},
		Fields:     Fields(r.Data),
		CreateTime: r.CreatedAt.UTC(),
		UpdateTime: r.UpdatedAt.UTC(),
	}
}

// GormStore keeps documents in one SQL table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore returns a store over db. The documents table must exist; see Migrate.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// SetClock replaces the clock that resolves ServerTimestamp values.
func (s *GormStore) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate creates or updates the documents table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return fmt.Errorf("failed to auto-migrate documents: %w", err)
	}
	return nil
}

func (s *GormStore) encode(fields Fields, at time.Time) (JSONFields, error) {
	resolved, _ := resolveServerTimestamps(fields, at).(Fields)
	b, err := json.Marshal(resolved)
	if err != nil {
		return nil, invalidArgument(err, "document cannot be encoded: %s", err.Error())
	}
	if len(b) > MaxDocumentSize {
		return nil, invalidArgument(nil, "document of %d bytes exceeds the %d byte limit", len(b), MaxDocumentSize)
	}
	var out JSONFields
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, invalidArgument(err, "document cannot be encoded: %s", err.Error())
	}
	return out, nil
}

// Add implements Store.
func (s *GormStore) Add(ctx context.Context, collection string, fields Fields) (*Document, error) {
	now := s.now().UTC()
	data, err := s.encode(fields, now)
	if err != nil {
		return nil, err
	}
	rec := &DocumentRecord{Collection: collection, ID: uuid.NewString(), Data: data, CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, classifyGormError(err, DocRef{Collection: collection})
	}
	return rec.document(), nil
}

// Set implements Store.
func (s *GormStore) Set(ctx context.Context, ref DocRef, fields Fields) (*Document, error) {
	now := s.now().UTC()
	data, err := s.encode(fields, now)
	if err != nil {
		return nil, err
	}
	rec := &DocumentRecord{Collection: ref.Collection, ID: ref.ID, Data: data, CreatedAt: now, UpdatedAt: now}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return nil, classifyGormError(err, ref)
	}
	return rec.document(), nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, ref DocRef) (*Document, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).Where("collection = ? AND id = ?", ref.Collection, ref.ID).First(&rec).Error
	if err != nil {
		return nil, classifyGormError(err, ref)
	}
	return rec.document(), nil
}

// Update implements Store.
func (s *GormStore) Update(ctx context.Context, ref DocRef, updates []Update) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec DocumentRecord
		if err := tx.Where("collection = ? AND id = ?", ref.Collection, ref.ID).First(&rec).Error; err != nil {
			return classifyGormError(err, ref)
		}
		fields := Fields(rec.Data)
		if fields == nil {
			fields = Fields{}
		}
		for _, u := range updates {
			fields.set(u.Path, u.Value)
		}
		now := s.now().UTC()
		data, err := s.encode(fields, now)
		if err != nil {
			return err
		}
		err = tx.Model(&DocumentRecord{}).
			Where("collection = ? AND id = ?", ref.Collection, ref.ID).
			Updates(map[string]interface{}{"data": data, "updated_at": now}).Error
		if err != nil {
			return classifyGormError(err, ref)
		}
		return nil
	})
}

// Documents implements Store. Filters and ordering are evaluated in memory
// over the collection.
func (s *GormStore) Documents(ctx context.Context, q Query) Iterator {
	if err := q.validate(); err != nil {
		return &sliceIterator{err: err}
	}
	var recs []DocumentRecord
	if err := s.db.WithContext(ctx).Where("collection = ?", q.Collection).Order("created_at, id").Find(&recs).Error; err != nil {
		return &sliceIterator{err: classifyGormError(err, DocRef{Collection: q.Collection})}
	}
	docs := make([]*Document, 0, len(recs))
	for i := range recs {
		docs = append(docs, recs[i].document())
	}
	return &sliceIterator{docs: q.apply(docs)}
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func classifyGormError(err error, ref DocRef) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(ref, err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, context.DeadlineExceeded):
		return errdefs.Transient(errdefs.SubsystemDocstore, err, "%s: %s", ref.Collection, err.Error())
	case errors.Is(err, ErrInvalidArgument):
		return err
	}
	var classified *errdefs.Error
	if errors.As(err, &classified) {
		return err
	}
	return errdefs.Internal(errdefs.SubsystemDocstore, err, "%s: %s", ref.Collection, err.Error())
}
