package database

import (
	"fmt"
	"log"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitMySQL 初始化 MySQL 连接并迁移表结构
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	// TranslateError 让唯一索引冲突统一映射成 gorm.ErrDuplicatedKey，
	// 发卡时的撞库重试依赖它
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(db); err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	log.Println("MySQL 连接成功")
	return db
}

// AutoMigrate 迁移积分子系统的表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.LedgerEntry{},
		&model.Card{},
		&model.OutboxMessage{},
	)
}
