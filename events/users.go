package events

import (
	"github.com/MatejaMaric/esdb-denormalizer/projections"
)

const UsersTable = "users"

const UsersTableSchema = "CREATE TABLE IF NOT EXISTS users (" +
	"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
	"username VARCHAR(255) NOT NULL UNIQUE, " +
	"email VARCHAR(255) NOT NULL, " +
	"login_count INT NOT NULL DEFAULT 0)"

// UserView is the read model of a user.
type UserView struct {
	Id         int64  `db:"id,auto" json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	LoginCount int32  `json:"login_count"`
}

// NewUserDenormalizer folds user events into UserView projections keyed by username.
func NewUserDenormalizer(opts ...projections.Option) *projections.Denormalizer[*UserView] {
	d := projections.New[*UserView](opts...)

	byUsername := []projections.Key{projections.Match("Username")}

	projections.MustOn(d, projections.Action[CreateUserEvent, *UserView]{
		Kind:   projections.AddNew,
		Inject: true,
		Keys:   byUsername,
	})

	projections.MustOn(d, projections.Action[LoginUserEvent, *UserView]{
		Kind: projections.Update,
		Keys: byUsername,
		Apply: func(e LoginUserEvent, u *UserView) (*UserView, error) {
			u.LoginCount++
			return u, nil
		},
	})

	projections.MustOn(d, projections.Action[ChangeEmailEvent, *UserView]{
		Kind:   projections.Update,
		Inject: true,
		Keys:   byUsername,
	})

	projections.MustOn(d, projections.Action[DeleteUserEvent, *UserView]{
		Kind: projections.Remove,
		Keys: byUsername,
	})

	return d
}
