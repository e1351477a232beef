package cloudblob

import "strings"

// EntityFileName is the leaf name every stored document lives under
const EntityFileName = "entity.json"

// BuildKey derives the storage path for an entity.
//
//	BuildKey("user", "1234", "")    -> "user/1234/entity.json"
//	BuildKey("user", "1234", "org") -> "user/org/1234/entity.json"
//
// Inputs are used verbatim. Every backend addresses documents through this
// function so listed keys can be fed straight back into Get.
func BuildKey(namespace, key, parent string) string {
	if parent != "" {
		return strings.Join([]string{namespace, parent, key, EntityFileName}, "/")
	}
	return strings.Join([]string{namespace, key, EntityFileName}, "/")
}

// IndexKey returns the storage path of a namespace's serialized search index
func IndexKey(namespace, fileName string) string {
	return namespace + "/" + fileName
}

// CacheKey returns the cache key for an entity
func CacheKey(namespace, key string) string {
	return namespace + "/" + key
}

// KeyFromPath recovers the entity key from a storage path, i.e. the segment
// directly before the entity file name. Returns "" for non-entity paths.
func KeyFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[len(parts)-1] != EntityFileName {
		return ""
	}
	return parts[len(parts)-2]
}

// IsEntityPath reports whether path is a direct entity of prefix, that is
// "{prefix}{key}/entity.json" with no further nesting. Index snapshots and
// child entities stored under a parent key are excluded.
func IsEntityPath(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] == EntityFileName
}

// NamespacePrefix returns the listing prefix for a namespace
func NamespacePrefix(namespace string) string {
	return namespace + "/"
}
