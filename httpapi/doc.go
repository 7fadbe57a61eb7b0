// Package httpapi mounts an [authcore.Engine] on a gorilla/mux router.
//
// Credentials travel in httpOnly cookies: the access token, the refresh
// token and the browser-session id that binds OAuth state. Errors are JSON
// {error, message} bodies whose status comes from [authcore.HTTPStatus],
// except on the OAuth callback, which always redirects to the login page
// with ?error=<code>.
//
// # What this package must NOT do
//
//   - Make authentication decisions. Every check lives in the engine.
//   - Return internal error detail to clients.
package httpapi
