// Package buildinfo exposes the version, commit and build timestamp
// stamped into the binary with ldflags, for example:
//
//	go build -ldflags "-X github.com/vircadia/worldsync/internal/infra/buildinfo.Version=v1.2.0"
package buildinfo
