// Package database provides facility-to-tenant resolution and the alert
// audit writer, both backed by PostgreSQL when one is configured.
package database

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	refreshInterval = 15 * time.Minute
	refreshTimeout  = 30 * time.Second

	// DefaultTenantTable is read by DatabaseResolver when no table is given.
	DefaultTenantTable = "facility_tenants"
)

// TenantResolver maps a facility to the tenant that owns it. It is consulted
// only when an event does not name its tenant.
type TenantResolver interface {
	// Resolve returns the tenant for a facility, or "" if unknown.
	Resolve(facilityID string) string
	// Count returns the number of facilities in the mapping.
	Count() int
	// Start begins any background refresh operations.
	Start()
	// Stop stops any background operations.
	Stop()
}

// NullResolver knows no facilities. Events must carry their own tenant.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Resolve(string) string { return "" }
func (r *NullResolver) Count() int            { return 0 }
func (r *NullResolver) Start()                {}
func (r *NullResolver) Stop()                 {}

// FileResolver loads facility-to-tenant mappings from a CSV file.
// Expected format: facility_id,tenant_id (e.g., "fac-berlin-01,acme")
type FileResolver struct {
	filePath string
	mapping  map[string]string
	mu       sync.RWMutex
}

// NewFileResolver creates a resolver that loads mappings from a CSV file.
func NewFileResolver(filePath string, logger *zap.Logger) (*FileResolver, error) {
	r := &FileResolver{
		filePath: filePath,
		mapping:  make(map[string]string),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	logger.Named("tenants").Info("facility mapping loaded",
		zap.String("file", filePath),
		zap.Int("facilities", len(r.mapping)))
	return r, nil
}

func (r *FileResolver) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		if len(record) < 2 {
			continue
		}
		facility := strings.TrimSpace(record[0])
		tenant := strings.TrimSpace(record[1])
		if facility == "" || tenant == "" {
			continue
		}
		r.mapping[facility] = tenant
	}
	return nil
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "facility_id")
}

func (r *FileResolver) Resolve(facilityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mapping[facilityID]
}

func (r *FileResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

// DatabaseResolver loads facility-to-tenant mappings from a database table.
// Uses a simple schema: SELECT facility_id, tenant_id FROM facility_tenants
type DatabaseResolver struct {
	db         *sql.DB
	tableName  string
	logger     *zap.Logger
	mapping    map[string]string
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	lastUpdate time.Time
}

// NewDatabaseResolver creates a resolver that loads mappings from a database.
// tableName defaults to DefaultTenantTable if empty.
func NewDatabaseResolver(db *sql.DB, tableName string, logger *zap.Logger) *DatabaseResolver {
	if tableName == "" {
		tableName = DefaultTenantTable
	}
	return &DatabaseResolver{
		db:        db,
		tableName: tableName,
		logger:    logger.Named("tenants"),
		mapping:   make(map[string]string),
		done:      make(chan struct{}),
	}
}

// Start loads the mapping and refreshes it periodically.
func (r *DatabaseResolver) Start() {
	r.refresh()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.refresh()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the refresh loop.
func (r *DatabaseResolver) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Resolve returns the tenant for a facility, or "" if unknown.
func (r *DatabaseResolver) Resolve(facilityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mapping[facilityID]
}

// Count returns the number of facilities in the mapping.
func (r *DatabaseResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

// LastUpdate reports when the mapping was last replaced.
func (r *DatabaseResolver) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// refresh replaces the mapping wholesale. A failed query keeps the old one.
func (r *DatabaseResolver) refresh() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	query := "SELECT facility_id, tenant_id FROM " + r.tableName + " WHERE tenant_id IS NOT NULL AND tenant_id != ''"
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Warn("query failed", zap.String("table", r.tableName), zap.Error(err))
		return
	}
	defer rows.Close()

	newMapping := make(map[string]string)
	for rows.Next() {
		var facility, tenant string
		if err := rows.Scan(&facility, &tenant); err != nil {
			continue
		}
		newMapping[facility] = tenant
	}

	if err := rows.Err(); err != nil {
		r.logger.Warn("row iteration failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.mapping = newMapping
	r.lastUpdate = time.Now()
	r.mu.Unlock()

	r.logger.Info("facility mapping loaded",
		zap.Int("facilities", len(newMapping)),
		zap.Duration("took", time.Since(start)))
}
