// Package version records the version of the debugger.
package version

// DebuggerVersion is the semver of this build.
const DebuggerVersion = "0.1.0"
