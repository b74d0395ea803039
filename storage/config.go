package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/certifychain/certifychain/storage/model"
)

// DriverType names a supported database
type DriverType string

// Supported drivers
const (
	DriverSQLite   DriverType = "sqlite"
	DriverMySQL    DriverType = "mysql"
	DriverPostgres DriverType = "postgres"
)

// SQLiteFile is the name of the database file created in Config.DataDir
const SQLiteFile = "certifychain.db"

// sqlitePragmas let the server and certctl use the same database file
// concurrently
const sqlitePragmas = "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// DSNConf holds the connection parameters mysql and postgres dsns are built
// from
type DSNConf struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	// SSLMode is passed as sslmode to postgres; it is ignored for mysql
	SSLMode string `yaml:"sslmode"`
}

// DSN builds the connection string for driver from conf
func DSN(driver DriverType, conf DSNConf) (string, error) {
	switch driver {
	case DriverMySQL:
		if conf.Port == 0 {
			conf.Port = 3306
		}
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			conf.User, conf.Password, conf.Host, conf.Port, conf.DB,
		), nil
	case DriverPostgres:
		if conf.Port == 0 {
			conf.Port = 5432
		}
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d",
			conf.Host, conf.User, conf.Password, conf.DB, conf.Port,
		)
		if conf.SSLMode != "" {
			dsn += " sslmode=" + conf.SSLMode
		}
		return dsn, nil
	case DriverSQLite:
		return "", errors.Errorf("driver %s is configured with a data dir, not a dsn", driver)
	default:
		return "", errors.Errorf("unsupported driver '%s'", driver)
	}
}

// Config configures the database connection
type Config struct {
	Driver DriverType `yaml:"driver"`
	// DSN is the connection string for mysql and postgres. For sqlite it can
	// be set to a file path (or ':memory:') instead of DataDir.
	DSN string `yaml:"dsn"`
	// DataDir is the directory of the sqlite database file
	DataDir string `yaml:"data_dir"`
	// Debug logs every sql statement
	Debug bool `yaml:"debug"`
}

func (cfg Config) dialector() (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if cfg.DataDir == "" {
				return nil, errors.New("sqlite needs a data dir or a dsn")
			}
			dsn = filepath.Join(cfg.DataDir, SQLiteFile) + sqlitePragmas
		}
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, errors.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Connect opens the database described by cfg
func Connect(cfg Config) (*gorm.DB, error) {
	dialector, err := cfg.dialector()
	if err != nil {
		return nil, err
	}
	logMode := logger.Silent
	if cfg.Debug {
		logMode = logger.Info
	}
	db, err := gorm.Open(
		dialector, &gorm.Config{
			Logger: logger.Default.LogMode(logMode),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s database", cfg.Driver)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if cfg.Driver == DriverSQLite {
		// sqlite serializes writers; a single connection avoids busy errors
		// inside this process
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

// LoadStorageBackends opens the database and returns the stores on top of it
func LoadStorageBackends(cfg Config) (model.Backends, error) {
	warehouse, err := NewStorage(cfg)
	if err != nil {
		return model.Backends{}, err
	}
	return model.Backends{
		Certificates: warehouse.CertificatesStorage(),
		Roles:        warehouse.RolesStorage(),
	}, nil
}
