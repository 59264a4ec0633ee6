package config

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// OpenDB connects to the database described by s without touching the global handle.
func OpenDB(s Settings) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch s.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(s.DBPath)
	case "mysql", "":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			s.DBUsername,
			s.DBPassword,
			s.DBHost,
			s.DBPort,
			s.DBDatabase,
		)
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported DB_DRIVER %q", s.DBDriver)
	}

	logLevel := logger.Warn
	if s.Debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(
			log.New(LogWriter, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logLevel, IgnoreRecordNotFoundError: true},
		),
		// Duplicate-key failures surface as gorm.ErrDuplicatedKey.
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return db, nil
}

// InitDB connects the global DB handle or exits.
func InitDB(s Settings) {
	db, err := OpenDB(s)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	DB = db
	Log.WithField("driver", s.DBDriver).Info("database connected")
}
