package models

import (
	"time"

	"gorm.io/datatypes"
)

// BudgetRow is one persisted (budget key, day) budget vector. The JSON
// Value column and the serialized ValueProto column coexist while the
// storage migration runs; the active phase decides which one is truth.
type BudgetRow struct {
	BudgetKey  string         `gorm:"column:budget_key;primaryKey;size:512" json:"budget_key"`
	Timeframe  string         `gorm:"column:timeframe;primaryKey;size:32" json:"timeframe"`
	Value      datatypes.JSON `gorm:"column:value" json:"value,omitempty"`
	ValueProto []byte         `gorm:"column:value_proto" json:"-"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (BudgetRow) TableName() string {
	return "budget_rows"
}
