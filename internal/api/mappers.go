package api

import (
	"time"

	"github.com/akmatori/contractmon/internal/registry"
)

// ContractToResponse converts a registration to its API representation.
// Durations are rendered as Go duration strings, timestamps as RFC 3339.
func ContractToResponse(rc registry.RegisteredContract) ContractResponse {
	c := rc.Contract
	resp := ContractResponse{
		Name:      c.Name,
		Version:   c.Version,
		Location:  c.Location,
		Schema:    c.Schema,
		Consumers: c.Consumers,
		SLA: SLAResponse{
			MinQualityScore:        c.SLA.MinQualityScore,
			MinAvailability:        c.SLA.MinAvailability,
			MaxConsecutiveFailures: c.SLA.MaxConsecutiveFailures,
		},
		Intervals:    make(map[string]string, len(rc.Config.Intervals)),
		LastChecks:   make(map[string]string, len(rc.LastChecks)),
		RegisteredAt: rc.RegisteredAt,
	}
	if c.SLA.Freshness > 0 {
		resp.SLA.Freshness = c.SLA.Freshness.String()
	}
	for ct, d := range rc.Config.Intervals {
		resp.Intervals[string(ct)] = d.String()
	}
	for ct, at := range rc.LastChecks {
		resp.LastChecks[string(ct)] = at.UTC().Format(time.RFC3339)
	}
	return resp
}

// ContractsToResponses converts registrations in order.
func ContractsToResponses(rcs []registry.RegisteredContract) []ContractResponse {
	items := make([]ContractResponse, len(rcs))
	for i, rc := range rcs {
		items[i] = ContractToResponse(rc)
	}
	return items
}
