// Package klaviyo holds the closed set of REST endpoints this connector
// consumes, each with its rate budget triple, and the filter expression
// builder Klaviyo's list endpoints expect.
package klaviyo

import "fmt"

// EndpointKey stably identifies one rate-limited endpoint, e.g. "GET:/events/".
type EndpointKey string

const (
	EndpointEvents          EndpointKey = "GET:/events/"
	EndpointProfiles        EndpointKey = "GET:/profiles/"
	EndpointCampaigns       EndpointKey = "GET:/campaigns/"
	EndpointCampaignMsgs    EndpointKey = "GET:/campaign-messages/"
	EndpointTags            EndpointKey = "GET:/tags/"
	EndpointFlows           EndpointKey = "GET:/flows/"
	EndpointFlowActions     EndpointKey = "GET:/flow-actions/"
	EndpointFlowMessages    EndpointKey = "GET:/flow-messages/"
	EndpointFlowMsgTemplate EndpointKey = "GET:/flow-messages/{id}/template/"
	EndpointTemplates       EndpointKey = "GET:/templates/"
	EndpointMetrics         EndpointKey = "GET:/metrics/"
	EndpointOAuthToken      EndpointKey = "POST:/oauth/token/"
)

// Budget is the {burst, steady, scopes} triple of §3's data model.
type Budget struct {
	// Burst is requests/second.
	Burst int
	// Steady is requests/minute, the reservoir's refill target.
	Steady int
	Scopes []string
}

// budgets is the static per-endpoint table, process-lifetime per §4.1.
var budgets = map[EndpointKey]Budget{
	EndpointEvents:          {Burst: 350, Steady: 3500, Scopes: []string{"events:read"}},
	EndpointProfiles:        {Burst: 350, Steady: 3500, Scopes: []string{"profiles:read"}},
	EndpointCampaigns:       {Burst: 75, Steady: 700, Scopes: []string{"campaigns:read"}},
	EndpointCampaignMsgs:    {Burst: 75, Steady: 700, Scopes: []string{"campaigns:read"}},
	EndpointTags:            {Burst: 75, Steady: 700, Scopes: []string{"tags:read"}},
	EndpointFlows:           {Burst: 75, Steady: 700, Scopes: []string{"flows:read"}},
	EndpointFlowActions:     {Burst: 75, Steady: 700, Scopes: []string{"flows:read"}},
	EndpointFlowMessages:    {Burst: 75, Steady: 700, Scopes: []string{"flows:read"}},
	EndpointFlowMsgTemplate: {Burst: 75, Steady: 700, Scopes: []string{"templates:read"}},
	EndpointTemplates:       {Burst: 75, Steady: 700, Scopes: []string{"templates:read"}},
	EndpointMetrics:         {Burst: 10, Steady: 70, Scopes: []string{"metrics:read"}},
	EndpointOAuthToken:      {Burst: 1, Steady: 60, Scopes: nil},
}

// Lookup returns the budget for key. Unknown keys are an implementer
// error (§4.1): callers must only ever pass a key from this table.
func Lookup(key EndpointKey) Budget {
	b, ok := budgets[key]
	if !ok {
		panic(fmt.Sprintf("klaviyo: unknown endpoint key %q", key))
	}
	return b
}

// Keys returns every known endpoint key in the static table. The Rate
// Limiter Registry does not use it; it creates each limiter on first use.
func Keys() []EndpointKey {
	keys := make([]EndpointKey, 0, len(budgets))
	for k := range budgets {
		keys = append(keys, k)
	}
	return keys
}
