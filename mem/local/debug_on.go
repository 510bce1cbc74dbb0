//go:build memkit_debug

package local

// debugBuild turns zero-on-free on by default.
const debugBuild = true
