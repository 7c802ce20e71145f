package domain

// User is a tracker member that can act on issues and be assigned to them.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
