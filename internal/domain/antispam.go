package domain

// DefaultMaxWarnings applies when a group has no anti-spam settings row.
const DefaultMaxWarnings = 3

// AntiSpamSettings is the per-group anti-spam policy. A group without a stored
// row behaves as if Active were false.
type AntiSpamSettings struct {
	GroupID            int64 `bson:"group_id" json:"group_id"`
	Active             bool  `bson:"is_active" json:"is_active"`
	BanInsteadOfDelete bool  `bson:"ban_instead_of_delete" json:"ban_instead_of_delete"`
	MaxWarnings        int   `bson:"max_warnings" json:"max_warnings"`
}

// WarningThreshold returns MaxWarnings, falling back to DefaultMaxWarnings when
// unset.
func (s AntiSpamSettings) WarningThreshold() int {
	if s.MaxWarnings <= 0 {
		return DefaultMaxWarnings
	}
	return s.MaxWarnings
}
