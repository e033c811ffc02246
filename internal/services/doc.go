// Package services implements clients for the three remote APIs wsx talks to.
//
// # Plex Media Server
//
// [PlexServer] implements [CatalogServer] for one user's token. The engine opens one
// session per user and never shares sessions between workers; sessions on the same
// server share a [Transport] so throttling applies per server.
//
// Section listings are paginated with X-Plex-Container-Start/Size and filtered with raw
// [Filter] fragments, because Plex expresses negation as "key!=value" in the query string.
//
// # plex.tv
//
// [PlexTV] implements [AccountDirectory]: the owner, friends and home users, and the
// per-server access tokens of shared users.
//
// # Metadata Provider
//
// [MetadataClient] implements [MetadataProvider]. It translates legacy agent GUIDs
// (com.plexapp.agents.themoviedb, com.plexapp.agents.thetvdb) via the matches endpoint
// and exposes show and season trees. Calls pass through a circuit breaker.
//
// # Transport
//
// Every client goes through [Transport], which:
//   - sets X-Plex-Token, X-Plex-Client-Identifier and X-Plex-Product
//   - waits on a per-server rate limiter when requests_per_second is set
//   - retries idempotent requests on 429 and 5xx with capped exponential backoff,
//     honoring Retry-After
//
// # Error Handling
//
// Transport errors wrap the shared sentinels:
//   - [shared.ErrUnauthorized] : 401 or 403
//   - [shared.ErrNotFound] : 404, or an empty result where one item was expected
//   - [shared.ErrTransient] : retries exhausted or the connection failed
//   - [shared.ErrAPIRequest] : any other non-2xx status
//   - [shared.ErrCircuitOpen] : the metadata provider breaker is open
//
// [Classify] maps them onto [models.Outcome].
package services
