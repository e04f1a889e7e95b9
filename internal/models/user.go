package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the closed set of caller roles. The authorization gateway switches
// over every constant explicitly; anything else is denied.
type Role string

const (
	RolePatient      Role = "PATIENT"
	RoleCaregiver    Role = "CAREGIVER"
	RoleFamilyMember Role = "FAMILY_MEMBER"
	RoleAdmin        Role = "ADMIN"
)

// ParseRole validates a role string carried in a token.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleCaregiver, RoleFamilyMember, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// User is the identity projection this service needs: enough to resolve a
// verified (email, role) pair into an internal user id.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Email     string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Role      Role      `gorm:"type:varchar(20);not null" json:"role"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// BeforeCreate hook
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// JWTClaims are the custom claims the upstream identity provider issues.
// Token verification happens upstream; this service only consumes the
// verified email and role.
type JWTClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller passed explicitly into every authorization
// decision. There is no ambient security context.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}
