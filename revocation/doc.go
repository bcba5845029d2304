// Package revocation provides the fast revoked-id lookup consulted on every access
// validation.
//
// Entries carry an expiry: once the thing they revoke could no longer be accepted
// anyway, the entry is dropped. Ids are access-token jtis and family ids; the index does
// not distinguish them.
package revocation
