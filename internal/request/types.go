package request

import "errors"

// BudgetTypeBinary is the only budget type the service consumes; keys
// that omit budget_type default to it.
const BudgetTypeBinary = "BUDGET_TYPE_BINARY_BUDGET"

var (
	ErrInvalidVersion      = errors.New("request version must be 2.0")
	ErrMissingData         = errors.New("request data is missing")
	ErrNoKeys              = errors.New("request contains no budget keys")
	ErrEmptyOrigin         = errors.New("reporting origin is empty")
	ErrDuplicateOrigin     = errors.New("reporting origin repeated in request")
	ErrOriginNotPartOfSite = errors.New("reporting origin does not belong to the authorized site")
	ErrMixedBudgetTypes    = errors.New("request mixes budget types")
	ErrUnknownBudgetType   = errors.New("unsupported budget type")
	ErrBadTokens           = errors.New("tokens must carry exactly one entry")
)

// ConsumeBudgetRequest is the v2 consume body.
type ConsumeBudgetRequest struct {
	Version string        `json:"v"`
	Data    []RequestData `json:"data"`
}

// RequestData groups the keys of one reporting origin.
type RequestData struct {
	ReportingOrigin string `json:"reporting_origin"`
	Keys            []Key  `json:"keys"`
}

// Key is one budget consumption: a client key, a token count and the
// reporting time that selects the (day, hour) slot.
type Key struct {
	Key           string       `json:"key"`
	Token         int32        `json:"token,omitempty"`
	Tokens        []TokenEntry `json:"tokens,omitempty"`
	ReportingTime string       `json:"reporting_time"`
	BudgetType    string       `json:"budget_type,omitempty"`
}

// TokenEntry is the list form of a token count.
type TokenEntry struct {
	TokenInt32 int32 `json:"token_int32"`
}

// EffectiveToken returns the token value. The tokens list form takes
// precedence and must then carry exactly one entry.
func (k *Key) EffectiveToken() (int32, error) {
	if len(k.Tokens) > 0 {
		if len(k.Tokens) != 1 {
			return 0, ErrBadTokens
		}
		return k.Tokens[0].TokenInt32, nil
	}
	return k.Token, nil
}

// ResolvedBudgetType returns the key's budget type with the default
// applied.
func (k *Key) ResolvedBudgetType() string {
	if k.BudgetType == "" {
		return BudgetTypeBinary
	}
	return k.BudgetType
}

// LegacyRequest is the v1 consume body. All keys share one reporting
// origin supplied out of band.
type LegacyRequest struct {
	Version string      `json:"v"`
	Keys    []LegacyKey `json:"t"`
}

// LegacyKey mirrors Key without origin grouping or budget types.
type LegacyKey struct {
	Key           string `json:"key"`
	Token         int32  `json:"token"`
	ReportingTime string `json:"reporting_time"`
}

// ToV2 lifts a legacy body onto the v2 shape under a single reporting
// origin.
func (r *LegacyRequest) ToV2(reportingOrigin string) *ConsumeBudgetRequest {
	keys := make([]Key, len(r.Keys))
	for i, k := range r.Keys {
		keys[i] = Key{
			Key:           k.Key,
			Token:         k.Token,
			ReportingTime: k.ReportingTime,
		}
	}
	return &ConsumeBudgetRequest{
		Version: "2.0",
		Data: []RequestData{
			{ReportingOrigin: reportingOrigin, Keys: keys},
		},
	}
}
