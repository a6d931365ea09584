package database

import (
	"fmt"

	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"

	"gorm.io/gorm"
)

func models() []any {
	return []any{&domain.Account{}}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models()...)
}

// Plan lists the schema changes Migrate would apply without mutating anything.
func Plan(db *gorm.DB) ([]string, error) {
	migrator := db.Migrator()
	var steps []string
	for _, model := range models() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		table := stmt.Schema.Table
		if !migrator.HasTable(model) {
			steps = append(steps, "create table "+table)
			continue
		}
		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" {
				continue
			}
			if !migrator.HasColumn(model, field.DBName) {
				steps = append(steps, fmt.Sprintf("add column %s.%s", table, field.DBName))
			}
		}
		for _, idx := range stmt.Schema.ParseIndexes() {
			if !migrator.HasIndex(model, idx.Name) {
				steps = append(steps, fmt.Sprintf("create index %s on %s", idx.Name, table))
			}
		}
	}
	return steps, nil
}
