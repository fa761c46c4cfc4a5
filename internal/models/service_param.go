package models

import "time"

// Parameter keys understood by the service.
const (
	ParamMigrationPhase = "migration_phase"
)

// ServiceParam is a small key/value table for runtime tunables that are
// read per request and flipped without a redeploy, such as the storage
// migration phase.
type ServiceParam struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ServiceParam) TableName() string {
	return "service_params"
}
