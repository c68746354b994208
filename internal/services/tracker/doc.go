// Package tracker talks to the external issue tracker over its REST API.
//
// The collector uses it to discover candidate issues and the reflector uses
// it to project queue state onto issue labels. Requests retry transient
// failures with exponential backoff and honor Retry-After on rate limits;
// anything else surfaces as a classified services error so callers can decide
// between retrying and parking.
package tracker
