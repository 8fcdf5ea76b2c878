package redis

import "fmt"

// Key construction helpers

// GammaStateKey returns the key for the last applied gamma state (hash)
// Pattern: gamma:state:{name}
func GammaStateKey(name string) string {
	return fmt.Sprintf("gamma:state:%s", name)
}
