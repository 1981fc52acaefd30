// Package transport is the HTTP implementation of core.Transport for the
// campaign platform's /api/v1 generation endpoints.
//
// Requests carry a bearer token from an oauth2.TokenSource. With a
// RefreshingTokenSource, an expired access token is renewed through
// /auth/refresh before it is used, and a request rejected with 401 is retried
// once after forcing a refresh.
package transport
