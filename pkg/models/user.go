package models

// Identity is the authenticated caller as carried in an id token
type Identity struct {
	UserID   string `json:"userId"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// UserIDOrAnonymous returns userID, or AnonymousUserID when it is empty
func UserIDOrAnonymous(userID string) string {
	if userID == "" {
		return AnonymousUserID
	}
	return userID
}
