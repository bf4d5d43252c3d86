package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"perpgrid/internal/logger"
)

// TransactionModel 是一条成交流水记录。
type TransactionModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OrderID   string `gorm:"index"`
	Side      string
	Size      decimal.Decimal `gorm:"type:TEXT"`
	Price     decimal.Decimal `gorm:"type:TEXT"`
	Status    string
	CreatedAt time.Time
}

func (TransactionModel) TableName() string { return "transactions" }

// TransactionLog 把订单终态写入本地 sqlite，只追加不更新。
// 写入失败只记日志，调用方永远不会因为流水落库失败而中断。
type TransactionLog struct {
	db *gorm.DB
}

func NewTransactionLog(path string) (*TransactionLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TransactionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &TransactionLog{db: db}, nil
}

// Append 记录一条成交流水。可能在推送 goroutine 上被调用，不能阻塞太久。
func (l *TransactionLog) Append(orderID string, side string, size, price decimal.Decimal, status string) {
	if l == nil || l.db == nil {
		return
	}
	rec := TransactionModel{
		OrderID: orderID,
		Side:    side,
		Size:    size,
		Price:   price,
		Status:  status,
	}
	if err := l.db.Create(&rec).Error; err != nil {
		logger.Warnf("appending transaction record failed: %v", err)
	}
}

// Recent 返回最近的 limit 条流水，供状态接口展示。
func (l *TransactionLog) Recent(limit int) ([]TransactionModel, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	var recs []TransactionModel
	if err := l.db.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (l *TransactionLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
