//go:build !memkit_debug

package local

const debugBuild = false
