package models

import "time"

// User is a dashboard account that maps onto a remote ERP login.
// Username doubles as the ERP login name.
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Username    string    `json:"username" gorm:"uniqueIndex;column:username"`
	DisplayName string    `json:"displayName" gorm:"column:display_name"`
	IsAdmin     bool      `json:"isAdmin" gorm:"column:is_admin"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Credential is a user's cached ERP secret. The secret is sealed before it
// touches the database and is never serialized to JSON.
type Credential struct {
	UserID    string    `json:"-" gorm:"primaryKey;column:user_id"`
	Secret    string    `json:"-" gorm:"column:secret"`
	UpdatedAt time.Time `json:"-"`
}

// CredentialUpdateRequest is the payload for caching a user's ERP password.
type CredentialUpdateRequest struct {
	Password string `json:"password"`
}
