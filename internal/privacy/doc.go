// Package privacy determines which privacy regulation applies to a visitor,
// collects consent through a banner and persists the choice.
//
// A Manager moves through Uninitialized, Detecting, AwaitingConsent and
// Consented. Detection resolves a GeoLocation either through a GeoResolver
// or from a static region; when the lookup fails the most conservative
// answer (GDPR, consent required) is assumed. The banner is a pure view of
// the manager state and is rendered with html/template.
//
// The necessary category is always granted and cannot be revoked.
package privacy
