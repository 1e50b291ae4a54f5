package models

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"column:email;type:text;uniqueIndex" json:"email"`
	Name         string    `gorm:"column:name;type:text" json:"name"`
	PasswordHash string    `gorm:"column:password_hash;type:text" json:"-"`
	Role         UserRole  `gorm:"column:role;type:text;default:user" json:"role"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// PasswordReset holds a single-use reset token; only its hash is stored.
type PasswordReset struct {
	TokenHash string     `gorm:"column:token_hash;type:text;primaryKey" json:"-"`
	UserID    string     `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	ExpiresAt time.Time  `gorm:"column:expires_at;type:timestamptz" json:"expires_at"`
	UsedAt    *time.Time `gorm:"column:used_at;type:timestamptz" json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (PasswordReset) TableName() string { return "password_resets" }
