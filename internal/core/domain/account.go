package domain

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusInactive  AccountStatus = "inactive"
	StatusSuspended AccountStatus = "suspended"
)

// IsActive reports whether the status admits logins and token use.
func (s AccountStatus) IsActive() bool {
	return s == StatusActive
}

// Account is the stored view of a user. The core never mutates it.
type Account struct {
	Username     string        `json:"username" yaml:"username"`
	PasswordHash string        `json:"-" yaml:"password_hash"`
	Role         Role          `json:"role" yaml:"role"`
	Status       AccountStatus `json:"status" yaml:"status"`
}
