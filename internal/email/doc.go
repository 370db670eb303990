// Package email delivers the account emails of the emails lane:
// verification, password reset and account deletion.
//
// Each email links to a frontend page with a signed token. Tokens are JWTs
// (HS256) carrying the address and the account's token issue time, signed
// with a per-kind secret so a token for one flow never validates in another.
// Subjects are localized through golang.org/x/text/language matching with
// English as the fallback. Delivery goes through go-mail and is paced by a
// token bucket limiter.
package email
