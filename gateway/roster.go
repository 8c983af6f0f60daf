package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guard-project/guard/pubsub"
)

type guildState struct {
	name     string
	channels map[int64]string
	members  map[int64]string
}

// Roster is the gateway's live view of which guilds the chat connection is
// joined to, with their channels and members. It is mutated only by roster
// payloads from the chat connection's event stream and read at call time by
// reconciliation and message dispatch. Reads see whatever the roster holds
// at that instant; there is no cross-call snapshotting.
type Roster struct {
	mu     sync.RWMutex
	guilds map[int64]*guildState

	numGuilds prometheus.GaugeFunc
}

func NewRoster(enablePrometheus bool) *Roster {
	r := &Roster{
		guilds: make(map[int64]*guildState),
	}
	if enablePrometheus {
		r.numGuilds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "guard",
			Subsystem: "gateway",
			Name:      "num_guilds",
			Help:      "Number of guilds the gateway is joined to",
		}, func() float64 {
			r.mu.RLock()
			defer r.mu.RUnlock()
			return float64(len(r.guilds))
		})
		prometheus.MustRegister(r.numGuilds)
	}
	return r
}

func (r *Roster) Teardown() {
	if r.numGuilds != nil {
		prometheus.Unregister(r.numGuilds)
	}
}

// Subscribe consumes roster payloads from the listener until it is closed.
// Call in a goroutine.
func (r *Roster) Subscribe(listener pubsub.Listener) error {
	return listener.Listen(pubsub.ChanRoster, func(p pubsub.Payload) {
		pubsub.Dispatch(r, p)
	})
}

func (r *Roster) OnGuildJoin(p *pubsub.GuildJoin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &guildState{
		name:     p.Name,
		channels: make(map[int64]string, len(p.Channels)),
		members:  make(map[int64]string, len(p.Members)),
	}
	for id, name := range p.Channels {
		g.channels[id] = name
	}
	for id, name := range p.Members {
		g.members[id] = name
	}
	r.guilds[p.GuildID] = g
}

func (r *Roster) OnGuildLeave(p *pubsub.GuildLeave) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.guilds, p.GuildID)
}

func (r *Roster) OnChannelCreate(p *pubsub.ChannelCreate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.guilds[p.GuildID]; g != nil {
		g.channels[p.ChannelID] = p.Name
	}
}

func (r *Roster) OnChannelDelete(p *pubsub.ChannelDelete) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.guilds[p.GuildID]; g != nil {
		delete(g.channels, p.ChannelID)
	}
}

func (r *Roster) OnMemberAdd(p *pubsub.MemberAdd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.guilds[p.GuildID]; g != nil {
		g.members[p.UserID] = p.Name
	}
}

func (r *Roster) OnMemberRemove(p *pubsub.MemberRemove) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.guilds[p.GuildID]; g != nil {
		delete(g.members, p.UserID)
	}
}

// IsMember reports whether the gateway is currently joined to this guild.
func (r *Roster) IsMember(guildID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guilds[guildID] != nil
}

// MemberName returns the display name for a user in a guild. ok is false if
// the guild is unknown or the user is not a member of it.
func (r *Roster) MemberName(guildID, userID int64) (name string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.guilds[guildID]
	if g == nil {
		return "", false
	}
	name, ok = g.members[userID]
	return name, ok
}

// HasChannel reports whether the channel exists within the guild.
func (r *Roster) HasChannel(guildID, channelID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.guilds[guildID]
	if g == nil {
		return false
	}
	_, ok := g.channels[channelID]
	return ok
}

// snapshot copies the channel and member maps for a guild so enrichment
// results cannot alias live roster state. Returns nil if the gateway is not
// a member.
func (r *Roster) snapshot(guildID int64) *guildState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.guilds[guildID]
	if g == nil {
		return nil
	}
	copied := &guildState{
		name:     g.name,
		channels: make(map[int64]string, len(g.channels)),
		members:  make(map[int64]string, len(g.members)),
	}
	for id, name := range g.channels {
		copied.channels[id] = name
	}
	for id, name := range g.members {
		copied.members[id] = name
	}
	return copied
}
