package ports

// FeatureFlags exposes boolean capability checks consumed as plain
// predicates.
type FeatureFlags interface {
	IsEnabled(flag string, accountID string) bool
}
