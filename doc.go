// Package authcore implements the token lifecycle behind session
// authentication: short-lived signed access tokens, rotating single-use
// refresh tokens with family-wide theft revocation, CSRF double-submit
// tokens, and single-use password-reset and email-verification tokens.
//
// The Engine is the entry point. Build one with the Builder, hand it a
// Redis client and a UserStore, and call its methods from whatever
// transport layer the application uses. A separate Janitor deletes token
// rows once they stop mattering.
//
//	engine, err := authcore.New().
//		WithRedis(client).
//		WithUserStore(store).
//		WithMailer(mailer).
//		Build()
//
// Refresh tokens are opaque random strings stored only as SHA-256 hashes.
// Every refresh consumes the presented token and issues a successor in the
// same family; presenting a consumed token proves either theft or a lost
// response, and both revoke the family.
package authcore
