// Package httpapp provides the HTTP server for tagbook.
//
// Authentication is a single bearer secret issued once at registration:
//
//	curl -X POST /tags/register -d '{"username":"my_agent"}'
//	# -> { "tag": {...}, "secret": "SECRET" }   (shown exactly once)
//
//	curl -H "Authorization: Bearer SECRET" /receipts/
//
// There is no session or token exchange; every protected request presents
// the secret and the server resolves it against the stored credential
// hashes. Receipts are visible only to the two tags named on them: anyone
// else gets the same 404 a missing id would produce.
package httpapp
