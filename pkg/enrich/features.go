package enrich

import "context"

// AutoTagMode controls when recipes are tagged automatically.
type AutoTagMode string

const (
	AutoTagOff AutoTagMode = "off"
	// AutoTagUntagged only tags recipes that have no tags yet.
	AutoTagUntagged AutoTagMode = "untagged"
	AutoTagAlways   AutoTagMode = "always"
)

// Features are the toggles triggers and handlers consult before doing work.
type Features struct {
	AIEnabled        bool
	AutoTag          AutoTagMode
	AutoCategorize   bool
	AllergyDetection bool
	Nutrition        bool
	CalendarSync     bool
	// Categories is the closed list auto-categorization chooses from.
	Categories []string
}

// DefaultFeatures enables everything except calendar sync.
func DefaultFeatures() Features {
	return Features{
		AIEnabled:        true,
		AutoTag:          AutoTagUntagged,
		AutoCategorize:   true,
		AllergyDetection: true,
		Nutrition:        true,
	}
}

// FeatureSource reads the current toggles. Implementations must be safe for
// concurrent use.
type FeatureSource interface {
	Features(ctx context.Context) (Features, error)
}

// StaticFeatures is a fixed FeatureSource.
type StaticFeatures Features

func (f StaticFeatures) Features(context.Context) (Features, error) {
	return Features(f), nil
}
