package models

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Operator is one allowlisted caller: an adtech site (or the peer
// coordinator) permitted to consume budget under its authorized domain.
type Operator struct {
	BaseModel
	Identity         string         `gorm:"uniqueIndex;not null" json:"identity"`
	AuthorizedDomain string         `gorm:"not null" json:"authorized_domain"`
	ReportingOrigins pq.StringArray `gorm:"type:text[]" json:"reporting_origins,omitempty"`
	TokenHash        string         `gorm:"index" json:"-"`
	IsCoordinator    bool           `gorm:"default:false" json:"is_coordinator"`
	IsActive         bool           `gorm:"default:true" json:"is_active"`
	Metadata         datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
}

// HashToken maps a raw auth token onto its stored digest. Tokens are
// never persisted in the clear.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AllowsOrigin reports whether a reporting origin is inside the
// operator's optional origin allowlist. An empty list allows the whole
// site.
func (o *Operator) AllowsOrigin(origin string) bool {
	if len(o.ReportingOrigins) == 0 {
		return true
	}
	for _, allowed := range o.ReportingOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
