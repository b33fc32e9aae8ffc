package httpapi

import (
	"time"

	"residencial.org/internal/auth"
)

type personView struct {
	ID             string     `json:"id"`
	DocumentType   string     `json:"document_type"`
	DocumentNumber string     `json:"document_number"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	FullName       string     `json:"full_name"`
	Username       string     `json:"username,omitempty"`
	Email          string     `json:"email,omitempty"`
	Emails         []string   `json:"emails"`
	Phone          string     `json:"phone,omitempty"`
	IsActive       bool       `json:"is_active"`
	HasPassword    bool       `json:"has_password"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func newPersonView(p *auth.Person) personView {
	emails := make([]string, 0, len(p.Emails))
	for _, e := range p.Emails {
		emails = append(emails, e.Address)
	}
	return personView{
		ID:             p.ID,
		DocumentType:   p.DocumentType,
		DocumentNumber: p.DocumentNumber,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		FullName:       p.FullName(),
		Username:       p.Username,
		Email:          p.PrimaryEmail(),
		Emails:         emails,
		Phone:          p.Phone,
		IsActive:       p.IsActive,
		HasPassword:    p.PasswordHash != "",
		LastLogin:      p.LastLogin,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		DeletedAt:      p.DeletedAt,
	}
}

// userView is a person as seen by itself after login.
type userView struct {
	personView
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func newUserView(p *auth.Principal) userView {
	if p == nil || p.Person == nil {
		return userView{}
	}
	return userView{
		personView:  newPersonView(p.Person),
		Roles:       p.RoleNames(),
		Permissions: p.PermissionCodes(),
	}
}

type roleView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsActive    bool     `json:"is_active"`
	Permissions []string `json:"permissions"`
}

type permissionView struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type personRoleView struct {
	PersonID    string    `json:"person_id"`
	RoleID      string    `json:"role_id"`
	FromDate    time.Time `json:"from_date"`
	UnitID      string    `json:"unit_id,omitempty"`
	ApartmentID string    `json:"apartment_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type pageView[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func pages(total, limit int) int {
	if total == 0 || limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
