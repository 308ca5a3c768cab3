// Package controller ties the cache lifecycle together: Install populates the
// versioned asset store from the static manifest, Activate deletes stale stores
// and claims all clients, and Handle classifies each intercepted request and
// dispatches it to the matching caching strategy.
package controller
