package main

import "time"

const (
	// certValidity is how long the self-signed HTTP/3 certificate lasts.
	// Browsers reject pinned self-signed certs older than 14 days.
	certValidity = 13 * 24 * time.Hour

	// certCommonName is used when no hostname is given.
	certCommonName = "xufei-agent"

	// recentUploadsLimit caps the rows printed by the uploads subcommand.
	recentUploadsLimit = 20

	// defaultBackupPath is where the backup subcommand writes by default.
	defaultBackupPath = "xufei-uploads-backup.db"
)
