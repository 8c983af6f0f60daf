package pubsub

// The channel which carries chat-connection membership payloads.
const ChanRoster = "rosterch"

// RosterListener is implemented by anything which wants to mirror the chat
// connection's view of guild membership, e.g. the gateway's roster.
type RosterListener interface {
	OnGuildJoin(p *GuildJoin)
	OnGuildLeave(p *GuildLeave)
	OnChannelCreate(p *ChannelCreate)
	OnChannelDelete(p *ChannelDelete)
	OnMemberAdd(p *MemberAdd)
	OnMemberRemove(p *MemberRemove)
}

// GuildJoin is sent when the chat connection becomes a member of a guild,
// including once per guild at connection startup.
type GuildJoin struct {
	GuildID  int64
	Name     string
	Channels map[int64]string
	Members  map[int64]string
}

func (p GuildJoin) Type() string { return "gj" }

type GuildLeave struct {
	GuildID int64
}

func (p GuildLeave) Type() string { return "gl" }

type ChannelCreate struct {
	GuildID   int64
	ChannelID int64
	Name      string
}

func (p ChannelCreate) Type() string { return "cc" }

type ChannelDelete struct {
	GuildID   int64
	ChannelID int64
}

func (p ChannelDelete) Type() string { return "cd" }

type MemberAdd struct {
	GuildID int64
	UserID  int64
	Name    string
}

func (p MemberAdd) Type() string { return "ma" }

type MemberRemove struct {
	GuildID int64
	UserID  int64
}

func (p MemberRemove) Type() string { return "mr" }

// Dispatch routes a roster payload to the right RosterListener callback.
// Unknown payload types are ignored.
func Dispatch(l RosterListener, p Payload) {
	switch pl := p.(type) {
	case *GuildJoin:
		l.OnGuildJoin(pl)
	case *GuildLeave:
		l.OnGuildLeave(pl)
	case *ChannelCreate:
		l.OnChannelCreate(pl)
	case *ChannelDelete:
		l.OnChannelDelete(pl)
	case *MemberAdd:
		l.OnMemberAdd(pl)
	case *MemberRemove:
		l.OnMemberRemove(pl)
	}
}
