package domain

// Permissions is the restriction set applied to a member. False fields are
// revoked.
type Permissions struct {
	SendMessages       bool
	SendMedia          bool
	SendOther          bool
	AddWebPagePreviews bool
}

// MutedPermissions revokes every kind of sending.
func MutedPermissions() Permissions {
	return Permissions{}
}

// DefaultPermissions restores every kind of sending.
func DefaultPermissions() Permissions {
	return Permissions{
		SendMessages:       true,
		SendMedia:          true,
		SendOther:          true,
		AddWebPagePreviews: true,
	}
}
