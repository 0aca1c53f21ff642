// Package matrix is an HTTP implementation of domain.KeysClient against the
// Matrix client-server API.
//
// Supported operations:
//   - POST /_matrix/client/v3/keys/query
//   - POST /_matrix/client/v3/keys/upload
//
// Requests are JSON, carry the access token as a bearer header and honour
// the context for cancellation. Error responses decode into *MatrixError;
// non-JSON error bodies come back as plain errors with the status and body.
package matrix
