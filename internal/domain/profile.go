package domain

import "time"

// Profile stores account details keyed by the auth uid.
type Profile struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Gender       *string
	Address      *string
	Phone        *string
	IsSubscribed bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfilePatch lists editable profile fields; nil fields are left unchanged.
type ProfilePatch struct {
	FirstName    *string
	LastName     *string
	Gender       *string
	Address      *string
	Phone        *string
	IsSubscribed *bool
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Gender == nil &&
		p.Address == nil && p.Phone == nil && p.IsSubscribed == nil
}

// Apply returns a copy of profile with the patch applied.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.FirstName != nil {
		profile.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		profile.LastName = *p.LastName
	}
	if p.Gender != nil {
		profile.Gender = p.Gender
	}
	if p.Address != nil {
		profile.Address = p.Address
	}
	if p.Phone != nil {
		profile.Phone = p.Phone
	}
	if p.IsSubscribed != nil {
		profile.IsSubscribed = *p.IsSubscribed
	}
	return profile
}
