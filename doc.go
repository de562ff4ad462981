// Package tunnelkeeper keeps SSH port forwards open. For every configured
// target a supervisor connects, registers the target's local and remote
// forwards, and then checks the connection every five minutes. When the
// connection is gone it reconnects and registers all forwards again; when
// anything fails it tries again three minutes later. By default host keys
// are not checked (any key is accepted), use WithKnownHosts or
// WithHostKeyCallback to change that.
//
// The configuration is plain text:
//
//	# comment
//	alice@bastion.example.com /home/alice/.ssh/id_ed25519
//	L 8080:127.0.0.1:80
//	R 2222:localhost:22
//	bob@inside.example.com:2200 /home/bob/.ssh/id_rsa
//	L 5432:db.internal:5432
//
// A "user@host[:port] keyfile" line starts a target, and the L (local) and R
// (remote) lines after it belong to that target. Typical use:
//
//	targets, err := tunnelkeeper.ParseFile("rc.conf")
//	...
//	err = tunnelkeeper.Run(ctx, targets)
//
// Run blocks until ctx is cancelled.
package tunnelkeeper
