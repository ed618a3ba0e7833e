package store

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"wg-mesh/pkg/model"
)

const masterSlot = "master"

// identityRecord is the row layout shared by the sqlite and mysql backends.
type identityRecord struct {
	Slot         string `gorm:"primaryKey;size:255"`
	UID          string `gorm:"size:255"`
	Role         string `gorm:"size:16"`
	Interface    string `gorm:"size:64"`
	PublicKey    string `gorm:"size:64"`
	PrivateKey   string `gorm:"size:64"`
	Address      string `gorm:"size:64"`
	Endpoint     string `gorm:"size:255"`
	RegisteredAt time.Time
}

func (identityRecord) TableName() string { return "mesh_identities" }

// SQLStore persists identities through gorm on sqlite or mysql.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens driver ("sqlite" or "mysql") at dsn and migrates the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("sql store dsn required")
	}
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if driver == "mysql" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
	}
	if err := db.AutoMigrate(&identityRecord{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// MySQLDSNFromEnv builds a DSN from MYSQL_DSN or MYSQL_HOST, MYSQL_PORT,
// MYSQL_USER, MYSQL_PASS and MYSQL_DB.
func MySQLDSNFromEnv() string {
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn
	}
	host := getenv("MYSQL_HOST", "127.0.0.1")
	port := getenv("MYSQL_PORT", "3306")
	user := getenv("MYSQL_USER", "root")
	pass := getenv("MYSQL_PASS", "")
	dbname := getenv("MYSQL_DB", "wg_mesh")
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, pass, host, port, dbname)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (s *SQLStore) Load() (Snapshot, error) {
	var records []identityRecord
	if err := s.db.Order("slot").Find(&records).Error; err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	for _, r := range records {
		n, err := r.identity()
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", r.Slot, err)
		}
		if r.Slot == masterSlot {
			snap.Master = &n
			continue
		}
		snap.Slaves = append(snap.Slaves, n)
	}
	return snap, nil
}

func (s *SQLStore) Save(n model.NodeIdentity) error {
	rec := identityRecord{
		UID:          n.UID,
		Role:         string(n.Role),
		Interface:    n.Interface,
		PublicKey:    n.PublicKey,
		PrivateKey:   n.PrivateKey,
		Address:      n.Address.String(),
		Endpoint:     n.Endpoint,
		RegisteredAt: n.RegisteredAt,
	}
	switch n.Role {
	case model.RoleMaster:
		rec.Slot = masterSlot
	case model.RoleSlave:
		rec.Slot = "slave:" + slaveKey(n)
	default:
		return ErrUnknownRole
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r identityRecord) identity() (model.NodeIdentity, error) {
	addr, err := netip.ParseAddr(r.Address)
	if err != nil {
		return model.NodeIdentity{}, err
	}
	return model.NodeIdentity{
		UID:          r.UID,
		Role:         model.Role(r.Role),
		Interface:    r.Interface,
		PublicKey:    r.PublicKey,
		PrivateKey:   r.PrivateKey,
		Address:      addr,
		Endpoint:     r.Endpoint,
		RegisteredAt: r.RegisteredAt,
	}, nil
}
