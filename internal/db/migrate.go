/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/cartesiancs/vessel/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.Device{},
		&models.Entity{},
		&models.EntityConfiguration{},
		&models.StatesMeta{},
		&models.State{},
		&models.SystemConfiguration{},
		&models.DeviceToken{},
		&models.Flow{},
		&models.FlowVersion{},
	)
}
