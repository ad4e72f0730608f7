// Package clients provides Go clients for the config server's HTTP APIs.
//
// AdminClient drives the unseal flow: an operator checks the status, one of
// them starts unsealing with a threshold and each submits a share.
//
//	client := clients.NewAdminClient("http://localhost:8888/admin", "ops1", key)
//	if err := client.StartUnseal(ctx, 2); err != nil { ... }
//	installed, err := client.SubmitShare(ctx, share)
package clients
