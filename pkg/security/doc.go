// Package security provides request validation, identifier checks,
// error-message sanitisation and limits for the genjobs package.
//
// Most users should import the root package github.com/jdziat/campaign-genjobs
// which re-exports these functions.
package security
