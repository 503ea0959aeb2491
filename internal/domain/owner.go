package domain

// UserType selects an authenticated user's daily entitlement.
type UserType string

const (
	UserTypeGuest   UserType = "guest"
	UserTypeRegular UserType = "regular"
)

// User is an authenticated caller.
type User struct {
	ID   string
	Type UserType
}

// Owner is who a chat is accounted to: an authenticated user, or the
// client IP for anonymous callers.
type Owner struct {
	User *User
	IP   string
}

// Anonymous reports whether the owner has no authenticated user.
func (o Owner) Anonymous() bool {
	return o.User == nil || o.User.ID == ""
}

// String is a stable label for logs.
func (o Owner) String() string {
	if o.Anonymous() {
		return "ip:" + o.IP
	}
	return "user:" + o.User.ID
}
