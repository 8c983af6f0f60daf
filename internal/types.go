package internal

// GuildDescriptor is the raw shape of a guild as reported by the identity
// provider: just an ID and a display name. The broker passes these through
// to the gateway untouched.
type GuildDescriptor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EnrichedGuild is a GuildDescriptor which the gateway has confirmed
// membership of, annotated with the channel and member lists the gateway
// held at the time of the reconciliation call.
type EnrichedGuild struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	Channels map[int64]string `json:"channels"`
	Members  map[int64]string `json:"members"`
}

// Session correlates a completed login: the host which finished the
// callback, the provider user ID and the raw (unreconciled) guild list.
// Read-only once created.
type Session struct {
	BoundHost string
	UserID    int64
	RawGuilds []GuildDescriptor
}
