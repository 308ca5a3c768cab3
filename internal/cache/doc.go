// Package cache implements the persistent named cache stores used by the cache
// controller. A Storage owns StoragePath/<store-name>/ directories; each Cache
// maps request identity (method + full URL, query included) to one entry file
// holding the response status, headers and body. Writes go through a temp file
// + rename under a per-key lock so readers never observe partial entries, and
// concurrent writers to the same key settle last-write-wins. Entry timestamps
// come from the stored response's Date header, not from the write time.
package cache
