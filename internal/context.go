package internal

import (
	"context"

	"github.com/rs/zerolog"
)

type ctx string

var ctxData ctx = "guard_data"

// logging metadata for a single request
type data struct {
	tokenPrefix string
	userID      int64
	numGuilds   int
}

// prepare a request context so it can carry guard request info
func RequestContext(c context.Context) context.Context {
	d := &data{
		userID:    -1,
		numGuilds: -1,
	}
	return context.WithValue(c, ctxData, d)
}

// SetRequestContextToken records an abbreviated form of the correlation
// token on this request context. Only the first few characters are kept;
// the full token is a credential and must not be logged.
func SetRequestContextToken(c context.Context, token string) {
	d := c.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	if len(token) > 6 {
		token = token[:6]
	}
	da.tokenPrefix = token
}

func SetRequestContextUserID(c context.Context, userID int64) {
	d := c.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.userID = userID
}

func SetRequestContextNumGuilds(c context.Context, numGuilds int) {
	d := c.Value(ctxData)
	if d == nil {
		return
	}
	da := d.(*data)
	da.numGuilds = numGuilds
}

func DecorateLogger(c context.Context, l *zerolog.Event) *zerolog.Event {
	d := c.Value(ctxData)
	if d == nil {
		return l
	}
	da := d.(*data)
	if da.tokenPrefix != "" {
		l = l.Str("tok", da.tokenPrefix)
	}
	if da.userID >= 0 {
		l = l.Int64("u", da.userID)
	}
	if da.numGuilds >= 0 {
		l = l.Int("g", da.numGuilds)
	}
	return l
}
