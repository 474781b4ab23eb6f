package auth

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

// User is the domain representation of an authenticated account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID        string
	Phone     string
	Email     *string
	FullName  string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerificationCode mirrors the verification_codes table. The code itself is
// stored only as a bcrypt hash.
type VerificationCode struct {
	ID        string
	Phone     string
	CodeHash  string
	Attempts  int
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RequestCodeRequest contains the payload for requesting a login code.
type RequestCodeRequest struct {
	Phone string `json:"phone"`
}

// VerifyCodeRequest contains the payload for exchanging a code for a session.
type VerifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
	Role  Role   `json:"role"`
}
