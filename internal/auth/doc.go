// Package auth provides session authentication for the hireloop portal.
//
// Users authenticate once with username/password and receive a JWT signed
// with HS256 using the configured jwt_secret. Every subsequent request,
// REST calls and the WebSocket upgrade alike, carries that token.
//
// # Token Flow
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, ttl)   // at login
//	userID, err := verifier.Verify(token)          // per request
//
// The HTTP middleware wires Verify into handler chains and stores the
// authenticated user ID on the request context:
//
//	mux.Handle("/api/conversations", auth.Middleware(verifier)(handler))
//	userID := auth.UserFromContext(r.Context())
//
// WebSocket upgrades cannot set an Authorization header from browsers, so
// TokenFromRequest also accepts a "token" query parameter.
package auth
