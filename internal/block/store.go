package block

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/amoylab/riderwatch/internal/apiserver/database"
	"github.com/amoylab/riderwatch/internal/common/config"
	"github.com/amoylab/riderwatch/internal/common/errorx"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists rider block status and city configuration per tenant
type Store interface {
	// GetStatus returns a KindNotFound error for riders never observed
	GetStatus(ctx context.Context, tenant, employeeID string) (*Status, error)
	SaveStatus(ctx context.Context, s *Status) error
	// GetCityConfig returns a KindNotFound error for unconfigured cities
	GetCityConfig(ctx context.Context, tenant string, cityID int64) (*CityConfig, error)
	SaveCityConfig(ctx context.Context, c *CityConfig) error
	ListCityConfigs(ctx context.Context, tenant string) ([]*CityConfig, error)
}

// NewStore creates the configured store. db is only used by the "db" type.
func NewStore(cfg config.BlockConfig, db *gorm.DB) (Store, error) {
	switch cfg.Store {
	case "memory":
		return NewMemoryStore(), nil
	case "db":
		if db == nil {
			return nil, errorx.Newf(errorx.KindConfiguration, "block.store", "", "db store requires a database")
		}
		return NewDBStore(db), nil
	default:
		return nil, errorx.Newf(errorx.KindConfiguration, "block.store", "", "unsupported block store: %s", cfg.Store)
	}
}

func statusNotFound(tenant, employeeID string) error {
	return errorx.Newf(errorx.KindNotFound, "block.status", tenant, "no block status for rider %s", employeeID)
}

func cityNotFound(tenant string, cityID int64) error {
	return errorx.Newf(errorx.KindNotFound, "block.city_config", tenant, "no block config for city %d", cityID)
}

// DBStore is the gorm backed Store
type DBStore struct {
	db *gorm.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore creates a Store over an already migrated database
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) GetStatus(ctx context.Context, tenant, employeeID string) (*Status, error) {
	var st Status
	err := database.Conn(ctx, s.db).
		Where("tenant = ? AND employee_id = ?", tenant, employeeID).
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statusNotFound(tenant, employeeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block status: %w", err)
	}
	return &st, nil
}

func (s *DBStore) SaveStatus(ctx context.Context, st *Status) error {
	if err := database.Conn(ctx, s.db).Save(st).Error; err != nil {
		return fmt.Errorf("failed to save block status: %w", err)
	}
	return nil
}

func (s *DBStore) GetCityConfig(ctx context.Context, tenant string, cityID int64) (*CityConfig, error) {
	var c CityConfig
	err := database.Conn(ctx, s.db).
		Where("tenant = ? AND city_id = ?", tenant, cityID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cityNotFound(tenant, cityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get city block config: %w", err)
	}
	return &c, nil
}

func (s *DBStore) SaveCityConfig(ctx context.Context, c *CityConfig) error {
	err := database.Conn(ctx, s.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant"}, {Name: "city_id"}},
			UpdateAll: true,
		}).
		Create(c).Error
	if err != nil {
		return fmt.Errorf("failed to save city block config: %w", err)
	}
	return nil
}

func (s *DBStore) ListCityConfigs(ctx context.Context, tenant string) ([]*CityConfig, error) {
	var out []*CityConfig
	err := database.Conn(ctx, s.db).
		Where("tenant = ?", tenant).
		Order("city_id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list city block configs: %w", err)
	}
	return out, nil
}

type statusKey struct {
	tenant     string
	employeeID string
}

type cityKey struct {
	tenant string
	cityID int64
}

// MemoryStore keeps everything in process memory. Values are copied on the
// way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	statuses map[statusKey]Status
	cities   map[cityKey]CityConfig
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory Store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses: make(map[statusKey]Status),
		cities:   make(map[cityKey]CityConfig),
	}
}

func (m *MemoryStore) GetStatus(_ context.Context, tenant, employeeID string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[statusKey{tenant, employeeID}]
	if !ok {
		return nil, statusNotFound(tenant, employeeID)
	}
	return &st, nil
}

func (m *MemoryStore) SaveStatus(_ context.Context, st *Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.ID == 0 {
		m.nextID++
		st.ID = m.nextID
	}
	m.statuses[statusKey{st.Tenant, st.EmployeeID}] = *st
	return nil
}

func (m *MemoryStore) GetCityConfig(_ context.Context, tenant string, cityID int64) (*CityConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cities[cityKey{tenant, cityID}]
	if !ok {
		return nil, cityNotFound(tenant, cityID)
	}
	return &c, nil
}

func (m *MemoryStore) SaveCityConfig(_ context.Context, c *CityConfig) error {
	c.SetCashLimit(c.CashLimit)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities[cityKey{c.Tenant, c.CityID}] = *c
	return nil
}

func (m *MemoryStore) ListCityConfigs(_ context.Context, tenant string) ([]*CityConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*CityConfig
	for k, c := range m.cities {
		if k.tenant == tenant {
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *CityConfig) int { return cmp.Compare(a.CityID, b.CityID) })
	return out, nil
}
