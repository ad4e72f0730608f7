/*
Package httpserver implements the config server's HTTP surface.

# Endpoints

  - GET /{name}/{profiles}[/{label}]: resolve an environment. 404 when the
    repositories have nothing for it.
  - POST /encrypt, POST /decrypt (optionally /{name}/{profiles}): encrypt or
    decrypt a text body with the installed key.
  - GET /encrypt/status, GET /key: key status and public key.
  - GET /livez, /readyz, /drain, /undrain: health and drain control.
  - /admin/...: unsealing the encryption key from Shamir shares, when enabled.

# Unsealing

When the encryption key is held by several operators, each keeps one Shamir
share of it. An operator starts unsealing with POST /admin/unseal and every
operator submits a share with POST /admin/share. Requests carry the operator ID
in X-Admin-ID and an ECDSA signature of sha256(path + body) in
X-Admin-Signature. When the threshold is reached the key is reconstructed and
installed; until then the encryption endpoints answer 404.
*/
package httpserver
