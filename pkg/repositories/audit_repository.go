package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// DefaultAuditListLimit caps audit exports that do not set a limit.
const DefaultAuditListLimit = 500

// AuditRepository provides data access for the append-only audit trail.
// There is deliberately no update or delete.
type AuditRepository interface {
	// Create inserts a new audit log entry. ID and Timestamp are assigned when zero.
	Create(ctx context.Context, entry *models.AuditLogEntry) error

	// List returns entries matching q, newest first.
	List(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates an AuditRepository backed by PostgreSQL.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	prepareAuditEntry(entry)

	var metadataJSON []byte
	var err error
	if len(entry.Metadata) > 0 {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	} else {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO evidence_audit_log (
			id, official_id, official_email, action, outcome, resource_id, resource_type,
			metadata, created_at, caller_address, client_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query,
		entry.ID,
		entry.OfficialID,
		entry.OfficialEmail,
		string(entry.Action),
		string(entry.Outcome),
		entry.ResourceID,
		entry.ResourceType,
		metadataJSON,
		entry.Timestamp,
		entry.CallerAddress,
		entry.ClientAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log entry: %w", err)
	}

	return nil
}

func (r *auditRepository) List(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.OfficialID != "" {
		conds = append(conds, "official_id = "+next(q.OfficialID))
	}
	if q.Action != "" {
		conds = append(conds, "action = "+next(string(q.Action)))
	}
	if q.Outcome != "" {
		conds = append(conds, "outcome = "+next(string(q.Outcome)))
	}
	if q.Since != nil {
		conds = append(conds, "created_at >= "+next(*q.Since))
	}

	query := `
		SELECT id, official_id, official_email, action, outcome, resource_id, resource_type,
			metadata, created_at, caller_address, client_agent
		FROM evidence_audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT " + next(auditLimit(q.Limit))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditLogEntry{}
	for rows.Next() {
		entry, err := scanAuditLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log entries: %w", err)
	}

	return entries, nil
}

func scanAuditLogEntry(row pgx.Row) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	var action, outcome string
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.OfficialID,
		&entry.OfficialEmail,
		&action,
		&outcome,
		&entry.ResourceID,
		&entry.ResourceType,
		&metadataJSON,
		&entry.Timestamp,
		&entry.CallerAddress,
		&entry.ClientAgent,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log entry: %w", err)
	}

	entry.Action = models.AuditAction(action)
	entry.Outcome = models.AuditOutcome(outcome)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
		}
	}

	return &entry, nil
}

func prepareAuditEntry(entry *models.AuditLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = models.AuditOutcomeSuccess
	}
}

func auditLimit(limit int) int {
	if limit <= 0 || limit > DefaultAuditListLimit {
		return DefaultAuditListLimit
	}
	return limit
}

// memoryAuditRepository keeps the audit trail in process memory.
type memoryAuditRepository struct {
	mu      sync.RWMutex
	entries []*models.AuditLogEntry
}

// NewMemoryAuditRepository creates an in-memory AuditRepository.
func NewMemoryAuditRepository() AuditRepository {
	return &memoryAuditRepository{}
}

var _ AuditRepository = (*memoryAuditRepository)(nil)

func (r *memoryAuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepareAuditEntry(entry)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, cloneAuditEntry(entry))
	return nil
}

func (r *memoryAuditRepository) List(ctx context.Context, q models.AuditQuery) ([]*models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := []*models.AuditLogEntry{}
	// Walk backwards so equal timestamps keep newest-appended first.
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if q.OfficialID != "" && e.OfficialID != q.OfficialID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if q.Outcome != "" && e.Outcome != q.Outcome {
			continue
		}
		if q.Since != nil && e.Timestamp.Before(*q.Since) {
			continue
		}
		out = append(out, cloneAuditEntry(e))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit := auditLimit(q.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneAuditEntry(e *models.AuditLogEntry) *models.AuditLogEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
