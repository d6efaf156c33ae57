package domain

// Feature names known to the default template.
const (
	FeatureWelcomeMessage = "welcome_message"
	FeatureAntiSpam       = "anti_spam"
	FeatureMuteNewMembers = "mute_new_members"
)

// FeatureSet maps feature names to their on/off state for one group.
type FeatureSet map[string]bool

// Clone returns an independent copy of the set.
func (f FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(f))
	for name, active := range f {
		out[name] = active
	}
	return out
}
