package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/careconnectpt/link-service/internal/database"
	"github.com/careconnectpt/link-service/internal/models"
	"github.com/google/uuid"
)

// AuditStore persists the link lifecycle audit trail.
type AuditStore interface {
	Create(ctx context.Context, entry *models.LinkAuditEntry) error
	ListByLink(ctx context.Context, linkID uuid.UUID, limit, offset int) ([]models.LinkAuditEntry, error)
}

// AuditRepository implements AuditStore on the global gorm handle.
type AuditRepository struct{}

// NewAuditRepository creates a new audit repository
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.LinkAuditEntry) error {
	if err := database.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListByLink retrieves audit entries for one link, newest first.
func (r *AuditRepository) ListByLink(ctx context.Context, linkID uuid.UUID, limit, offset int) ([]models.LinkAuditEntry, error) {
	var entries []models.LinkAuditEntry
	query := database.DB.WithContext(ctx).
		Where("link_id = ?", linkID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}

// MemoryAuditStore is an in-memory AuditStore for tests.
type MemoryAuditStore struct {
	mu      sync.Mutex
	Entries []models.LinkAuditEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Create appends an audit entry.
func (s *MemoryAuditStore) Create(ctx context.Context, entry *models.LinkAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.Entries = append(s.Entries, *entry)
	return nil
}

// ListByLink retrieves audit entries for one link, newest first.
func (s *MemoryAuditStore) ListByLink(ctx context.Context, linkID uuid.UUID, limit, offset int) ([]models.LinkAuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LinkAuditEntry
	for _, e := range s.Entries {
		if e.LinkID == linkID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
