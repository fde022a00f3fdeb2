// Package keycodec maps logical keys, tags and lock names to the physical key
// strings stored in the backing store.
//
// The formats are an on-wire contract shared with existing deployments:
//
//	entry key:      {key} or {module}:{key}
//	tag index key:  tags:{tag} or tags:{module}:{tag}
//
// An empty module means "no module". The FrequentTag class always maps to the
// unscoped tag key so that invalidating it reaches every module.
package keycodec

import "strconv"

// FrequentTag is the reserved tag class shared across all modules.
const FrequentTag = "frequent"

const (
	tagPrefix    = "tags:"
	lockPrefix   = "lock:"
	windowPrefix = "ratelimit:"
	separator    = ":"
)

// PhysicalKey returns the store key for key within module.
func PhysicalKey(key, module string) string {
	if module == "" {
		return key
	}
	return module + separator + key
}

// PhysicalTagKey returns the store key of the tag index set for tag within module.
func PhysicalTagKey(tag, module string) string {
	if module == "" || tag == FrequentTag {
		return tagPrefix + tag
	}
	return tagPrefix + module + separator + tag
}

// PhysicalKeys applies PhysicalKey to each key, preserving order.
func PhysicalKeys(keys []string, module string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = PhysicalKey(k, module)
	}
	return out
}

// PhysicalTagKeys applies PhysicalTagKey to each tag, preserving order.
func PhysicalTagKeys(tags []string, module string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = PhysicalTagKey(t, module)
	}
	return out
}

// LockKey returns the store key guarding the named lock.
func LockKey(name string) string {
	return lockPrefix + name
}

// WindowKey returns the counter key for entity in the given fixed window.
func WindowKey(entity string, window int64) string {
	return windowPrefix + entity + separator + strconv.FormatInt(window, 10)
}
