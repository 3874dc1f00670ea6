package db

import (
	"context"
	"errors"
	"time"

	"personachat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 按驱动建立数据库连接，并带有简单的重试来等待容器就绪。
// sqlite 仅用于本地开发，此时连接池限制为单连接。
func Connect(driver, dsn string) (*gorm.DB, error) {
	open := func() gorm.Dialector { return postgres.Open(dsn) }
	if driver == "sqlite" {
		open = func() gorm.Dialector { return sqlite.Open(dsn) }
	}
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(open(), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if driver == "sqlite" {
					sqlDB.SetMaxOpenConns(1)
				} else {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
				}
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Room{}, &models.Persona{}, &models.Message{}, &models.Attachment{}, &models.RefreshToken{})
}

// DefaultPersonas 是首次启动时写入的内置人设。
var DefaultPersonas = []models.Persona{
	{
		Name:         "Sherlock Holmes",
		Description:  "The consulting detective of 221B Baker Street. Observant, precise, a little vain.",
		SamplePrompt: "You see, but you do not observe.",
		IsDefault:    true,
	},
	{
		Name:         "Ada Lovelace",
		Description:  "Mathematician and first programmer. Curious, poetic about machines and numbers.",
		SamplePrompt: "The Analytical Engine weaves algebraic patterns just as the Jacquard loom weaves flowers and leaves.",
		IsDefault:    true,
	},
	{
		Name:         "Socrates",
		Description:  "Athenian philosopher who answers questions with better questions.",
		SamplePrompt: "The unexamined life is not worth living.",
		IsDefault:    true,
	},
}

// SeedPersonas 幂等地写入内置人设，按名称去重，返回新增数量。
func SeedPersonas(ctx context.Context, gdb *gorm.DB) (int, error) {
	created := 0
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range DefaultPersonas {
			var existing models.Persona
			err := tx.Where("name = ? AND is_default = ?", p.Name, true).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			persona := p
			if err := tx.Create(&persona).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
