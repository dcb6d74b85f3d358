// Package pricing computes the token cost of a render job. The same function
// backs both the pre-flight affordability check and the hold placed at job
// creation, so the two can never disagree.
package pricing

// Token pricing constants.
const (
	BaseCost             int64 = 10
	CostPerMessage       int64 = 1
	CustomBackgroundCost int64 = 10
	MonetizationCost     int64 = 20
)

// Params describe the billable properties of a prospective render.
type Params struct {
	MessageCount        int  `json:"message_count"`
	HasCustomBackground bool `json:"has_custom_background"`
	UsesMonetization    bool `json:"uses_monetization"`
}

// EstimateCost is pure and deterministic.
func EstimateCost(p Params) int64 {
	cost := BaseCost + CostPerMessage*int64(p.MessageCount)
	if p.HasCustomBackground {
		cost += CustomBackgroundCost
	}
	if p.UsesMonetization {
		cost += MonetizationCost
	}
	return cost
}
