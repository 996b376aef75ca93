// Package logging initializes the service's zap logger. The teacher
// uses stdlib log throughout, which is too thin for a service running
// concurrent shards, batches, and persistence paths that need leveled,
// structured fields, grounded in the pack's jeongkyun-oh-klaytn,
// which pulls go.uber.org/zap for exactly this reason.
package logging

import "go.uber.org/zap"

// New builds a production logger for env=="production" and a more
// verbose, human-readable development logger otherwise.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
