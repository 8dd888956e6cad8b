// Package eventbus provides the in-process publish/subscribe channel between
// the host and loaded remotes. Handlers run synchronously on the emitting
// goroutine and a panicking handler never affects the others.
package eventbus
