package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Business{}, &Outlet{}, &Employee{}, &User{},
		&Shift{},
		&Order{}, &Payment{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
