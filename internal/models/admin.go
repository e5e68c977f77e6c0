package models

import (
	"time"

	"github.com/google/uuid"
)

// Role of an operator account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Admin is an operator account of the admin API.
type Admin struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminPublic is Admin without sensitive fields for API responses.
type AdminPublic struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     Role      `json:"role"`
}

// ToPublic converts Admin to AdminPublic.
func (a *Admin) ToPublic() AdminPublic {
	return AdminPublic{ID: a.ID, Email: a.Email, FullName: a.FullName, Role: a.Role}
}
