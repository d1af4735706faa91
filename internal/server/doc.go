// Package server runs the local HTTP listener used by the Spotify authorization-code flow.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] wraps handlers in reverse order (last added executes first).
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback
//
// [OAuthHandler] validates the state parameter, exchanges the authorization code for tokens
// and sends the result through a channel. It only processes one callback.
//
// [CallbackServer] binds the redirect URI's loopback address, serves the handler behind
// [Logging] and [Recoverer], and shuts itself down once a token arrives or the wait times out.
package server
