// Package gate keeps the signed-in state of every browser that talks to the
// tour front end and decides, per route, whether to render, wait or redirect.
//
// Sessions and tokens:
//   - Each browser is a ClientSession keyed by a cookie. Its Store observes the
//     IdentityProvider, restores the access token persisted under
//     TokenStorageKey and otherwise asks the TokenIssuer for a fresh one. Token
//     records carry the time they were issued and expire after the configured
//     TTL.
//   - Only the most recent token operation may publish or persist a result, so
//     a slow issue request cannot overwrite a later sign out.
//
// Roles:
//   - RoleResolver fetches the role for the signed-in email once a token is
//     available and caches it per session. Unknown or failed lookups resolve
//     to RoleUnknown.
//
// Route guarding:
//   - RouteGuard.Protect evaluates a Requirement against the session snapshot
//     and maps the GateState to a response: the page, a loading page that
//     refreshes, a login redirect that remembers the rejected route, or the
//     forbidden page.
//
// Activity sinks:
//   - ActivitySink receives login, logout, token and gate events. Sinks run
//     best effort and errors are only logged.
package gate
