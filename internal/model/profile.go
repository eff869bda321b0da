package model

import "slices"

// AdminSpecialty is the specialties entry that grants admin rights on its own.
const AdminSpecialty = "admin"

// Profile is the per-user record kept by the backend.
type Profile struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	IsAdmin     bool     `json:"is_admin"`
	Specialties []string `json:"specialties"`
}

// HasAdminSpecialty reports whether specialties contains the literal "admin".
func (p Profile) HasAdminSpecialty() bool {
	return slices.Contains(p.Specialties, AdminSpecialty)
}
