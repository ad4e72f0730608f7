/*
Package api holds what the config server and its clients share: the wire
constants of the environment protocol and the HTTP server configuration.

# Environment protocol

A client resolves configuration with

	GET {server}/{name}/{profiles}[/{label}]
	Accept: application/vnd.spring-cloud.config-server.v2+json
	X-Config-Token: <token>     (optional)
	X-Config-State: <state>     (optional)

A label containing "/" travels as "(_)" so that it stays one path segment. The
response is a JSON Environment. Asking for the v2 media type makes the server
return every value as {"value": ..., "origin": "..."}.

The server also accepts POST /encrypt and POST /decrypt with a text body and
answers with text.
*/
package api
