package models

// Role decides which side of a call an account sits on. Only students can
// initiate calls; teachers wait to be called.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

type Account struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        Role   `json:"role"`
	IsAvailable bool   `json:"is_available"`
}

func (a Account) CanInitiateCall() bool {
	return a.Role != RoleTeacher
}
