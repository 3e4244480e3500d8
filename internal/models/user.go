package models

import "strings"

// User is a recipient returned by the user service targeting query
type User struct {
	ID         string         `json:"id"`
	Email      *string        `json:"email,omitempty"`
	Phone      *string        `json:"phone,omitempty"`
	FirstName  *string        `json:"firstName,omitempty"`
	LastName   *string        `json:"lastName,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FullName returns the user's display name, "Customer" when unknown
func (u *User) FullName() string {
	var firstName, lastName string

	if u.FirstName != nil {
		firstName = strings.TrimSpace(*u.FirstName)
	}
	if u.LastName != nil {
		lastName = strings.TrimSpace(*u.LastName)
	}

	if firstName != "" && lastName != "" {
		return firstName + " " + lastName
	}
	if firstName != "" {
		return firstName
	}
	if lastName != "" {
		return lastName
	}
	return "Customer"
}

// Context returns the template rendering context for this user
func (u *User) Context() map[string]any {
	user := map[string]any{"id": u.ID}
	put := func(key string, v *string) {
		if v != nil {
			user[key] = *v
		}
	}
	put("email", u.Email)
	put("phone", u.Phone)
	put("firstName", u.FirstName)
	put("lastName", u.LastName)
	for k, v := range u.Attributes {
		if _, taken := user[k]; !taken {
			user[k] = v
		}
	}
	user["attributes"] = u.Attributes
	return map[string]any{"user": user}
}
