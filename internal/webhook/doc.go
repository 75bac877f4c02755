// Package webhook accepts HMAC-SHA256 signed requests that enqueue archive
// imports.
//
// Each endpoint carries its own shared secret and the header the caller puts
// the signature in. The signature covers the raw request body and may be sent
// as plain hex or in the "sha256=<hex>" form.
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/publish
//	      secret: ${CSDB_PUBLISH_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 64KiB
//	      release: main
//	      language: en
//	      user: publisher
//
// The body names the archive and may override the endpoint's defaults:
//
//	{"archive_path": "/drop/bike.zip", "language": "fr", "root_node": "..."}
//
// Responses:
//
//   - 202 Accepted with the job id once the import is queued
//   - 400 Bad Request when the body does not describe a valid import
//   - 403 Forbidden for a missing or wrong signature, without detail
//   - 404 Not Found when the release does not exist
//   - 413 Payload Too Large when the body exceeds max_body_size
package webhook
