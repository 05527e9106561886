package domain

// Identity attributes a run to a user for audit purposes. Transforms
// receive it but must never let it influence their output.
type Identity struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Role     string `json:"role" yaml:"role"`
}

// UserID returns the identity's ID, tolerating a nil receiver.
func (i *Identity) UserID() string {
	if i == nil {
		return ""
	}
	return i.ID
}

// Name returns the identity's username, tolerating a nil receiver.
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	return i.Username
}
