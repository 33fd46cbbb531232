package model

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cloudreve/davserver/pkg/conf"
	"github.com/cloudreve/davserver/pkg/logging"
	"github.com/cloudreve/davserver/pkg/util"
	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
)

// Init 初始化数据库连接并迁移数据表
func Init(cfg *conf.Database, debug bool, l logging.Logger) (*gorm.DB, error) {
	l.Info("Initializing database connection (%s)...", cfg.Type)

	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Type {
	case conf.MySqlDB:
		db, err = gorm.Open("mysql", cfg.DSN)
	case conf.SQLiteDB, "":
		var sqlDB *sql.DB
		sqlDB, err = sql.Open("sqlite", util.DataPath(cfg.DBFile)+"?_pragma=foreign_keys(1)")
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite file: %w", err)
		}
		db, err = gorm.Open("sqlite3", sqlDB)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.TablePrefix != "" {
		prefix := cfg.TablePrefix
		gorm.DefaultTableNameHandler = func(db *gorm.DB, defaultTableName string) string {
			return prefix + defaultTableName
		}
	}

	db.SetLogger(&gormLogger{l: l})
	db.LogMode(debug)

	// SQLite 不支持并发写
	if cfg.Type == conf.MySqlDB {
		db.DB().SetMaxIdleConns(50)
		db.DB().SetMaxOpenConns(100)
	} else {
		db.DB().SetMaxOpenConns(1)
	}
	db.DB().SetConnMaxLifetime(time.Second * 30)

	if err := migrate(db, l); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *gorm.DB, l logging.Logger) error {
	l.Info("Auto migrating database schema...")
	tx := db
	if db.Dialect().GetName() == "mysql" {
		tx = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := tx.AutoMigrate(&DataObject{}).Error; err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

type gormLogger struct {
	l logging.Logger
}

func (g *gormLogger) Print(v ...interface{}) {
	g.l.Debug("%s", fmt.Sprint(gorm.LogFormatter(v...)...))
}
