package types

import (
	"strings"
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCustomer
}

// Account represents a shopper or staff identity.
// It contains credentials, verification state, and audit metadata.
type Account struct {
	// ID is the unique identifier of the account (UUID string).
	ID string `json:"id" db:"id" bson:"_id"`

	// Email is the unique identity of the account, stored normalized.
	Email string `json:"email" db:"email" bson:"email"`

	// PasswordHash stores the bcrypt hash of the account password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash"`

	// RealName is the first name of the account holder.
	RealName string `json:"realName" db:"real_name" bson:"real_name"`

	// LastName is the family name of the account holder.
	LastName string `json:"lastName" db:"last_name" bson:"last_name"`

	// PhoneNumber is the contact number of the account holder.
	PhoneNumber string `json:"phoneNumber" db:"phone_number" bson:"phone_number"`

	// SecretWordHash stores the argon2id hash of the recovery secret word.
	// The secret word is a lower-assurance credential than the password and
	// is only ever accepted together with the registered email.
	SecretWordHash string `json:"-" db:"secret_word_hash" bson:"secret_word_hash"`

	// Role indicates the account's authorization level.
	Role Role `json:"role" db:"role" bson:"role"`

	// IsVerified is set once the account proved ownership of its email.
	IsVerified bool `json:"isVerified" db:"is_verified" bson:"is_verified"`

	// Verification holds the pending email verification code, if any.
	Verification VerificationCode `json:"-" db:"-" bson:"verification"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at" bson:"updated_at"`
}

// VerificationCode is a short-lived code proving ownership of an email.
// The zero value means no code is pending.
type VerificationCode struct {
	Code      string    `bson:"code,omitempty"`
	ExpiresAt time.Time `bson:"expires_at,omitempty"`
}

// Empty reports whether no code is pending.
func (c VerificationCode) Empty() bool {
	return c.Code == ""
}

// AccountPatch describes a partial update of an account. Nil fields are left untouched.
type AccountPatch struct {
	PasswordHash *string
	RealName     *string
	LastName     *string
	PhoneNumber  *string
	Role         *Role
	IsVerified   *bool

	// Verification replaces the pending code when set.
	Verification *VerificationCode
	// ClearVerification removes the pending code. It wins over Verification.
	ClearVerification bool

	// IfCode makes the update conditional on the currently stored code.
	IfCode string
}

// Empty reports whether the patch changes nothing.
func (p AccountPatch) Empty() bool {
	return p.PasswordHash == nil &&
		p.RealName == nil &&
		p.LastName == nil &&
		p.PhoneNumber == nil &&
		p.Role == nil &&
		p.IsVerified == nil &&
		p.Verification == nil &&
		!p.ClearVerification
}

// Apply returns a copy of a with the patch applied. It does not check IfCode.
func (p AccountPatch) Apply(a Account) Account {
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.RealName != nil {
		a.RealName = *p.RealName
	}
	if p.LastName != nil {
		a.LastName = *p.LastName
	}
	if p.PhoneNumber != nil {
		a.PhoneNumber = *p.PhoneNumber
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.IsVerified != nil {
		a.IsVerified = *p.IsVerified
	}
	if p.Verification != nil {
		a.Verification = *p.Verification
	}
	if p.ClearVerification {
		a.Verification = VerificationCode{}
	}
	return a
}

// Profile is the non-secret view of an account returned to clients.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	RealName    string    `json:"realName"`
	LastName    string    `json:"lastName"`
	PhoneNumber string    `json:"phoneNumber"`
	Role        Role      `json:"role"`
	IsVerified  bool      `json:"isVerified"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Profile returns the public view of the account.
func (a Account) Profile() Profile {
	return Profile{
		ID:          a.ID,
		Email:       a.Email,
		RealName:    a.RealName,
		LastName:    a.LastName,
		PhoneNumber: a.PhoneNumber,
		Role:        a.Role,
		IsVerified:  a.IsVerified,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// NormalizeEmail trims and lower-cases an email so that uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
