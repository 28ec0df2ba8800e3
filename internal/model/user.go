package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	APIToken  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the user's timezone, falling back to fallback when the
// stored name is empty or unknown.
func (u *User) Location(fallback *time.Location) *time.Location {
	return LoadLocation(u.Timezone, fallback)
}

// LoadLocation resolves an IANA zone name, returning fallback on failure.
func LoadLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
