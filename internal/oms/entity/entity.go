package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有OMS表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 产品
		&ProductTemplate{},
		&Product{},

		// 规格
		&Spec{},
		&SpecComponent{},

		// 销售
		&SalesOrder{},
		&OrderLine{},

		// 履约
		&Shipment{},
		&FulfillmentInstruction{},
	)
}
