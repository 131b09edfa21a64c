package chat

import (
	"context"

	"github.com/wishp/circles/internal/data"
)

// UserDirectory resolves profiles from the users store.
type UserDirectory struct {
	Users data.UserStore
}

func (d UserDirectory) Profile(ctx context.Context, uid string) (Profile, bool) {
	u, err := d.Users.GetUser(ctx, uid)
	if err != nil {
		return Profile{}, false
	}
	return Profile{Name: u.DisplayName, PhotoURL: u.PhotoURL}, true
}
