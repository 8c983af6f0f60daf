package gateway

import (
	"github.com/guard-project/guard/internal"
)

// Reconcile filters the raw guild list down to the guilds the gateway is
// actually joined to, enriching each with the channel and member lists held
// at call time. The approved set is a strict filter of raw: a guild the
// roster does not contain is silently dropped, never invented. The guild
// name comes from the caller's descriptor, as the provider's name is what
// the user saw when they logged in.
func (r *Roster) Reconcile(raw []internal.GuildDescriptor) map[int64]internal.EnrichedGuild {
	approved := make(map[int64]internal.EnrichedGuild)
	for _, g := range raw {
		snap := r.snapshot(g.ID)
		if snap == nil {
			continue
		}
		approved[g.ID] = internal.EnrichedGuild{
			ID:       g.ID,
			Name:     g.Name,
			Channels: snap.channels,
			Members:  snap.members,
		}
	}
	internal.Assert("approved set is never larger than the raw list", len(approved) <= len(raw))
	return approved
}
