package canteen

import "fmt"

type Role string

const (
	RoleStudent Role = "student"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

type Capability int

const (
	CapBook       Capability = iota + 1 // create/modify/cancel own bookings
	CapCallQueue                        // call next, mark served
	CapAdminister                       // slots, menu, analytics, alerts
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleStaff, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	switch r {
	case RoleStudent:
		return c == CapBook
	case RoleStaff:
		return c == CapCallQueue
	case RoleAdmin:
		return c == CapAdminister
	}
	return false
}
