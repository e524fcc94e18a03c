// Package version exposes the build's VCS metadata via
// carlmjohnson/versioninfo. A node logs this once at startup and appends
// it to its metrics prefix so that metrics from different builds of the
// same node are distinguishable in aggregate dashboards.
package version

import "github.com/carlmjohnson/versioninfo"

// String renders a short build identifier: the VCS revision (short form)
// suffixed with "-dirty" if the working tree had uncommitted changes at
// build time.
func String() string {
	rev := versioninfo.Short()
	if versioninfo.DirtyBuild {
		rev += "-dirty"
	}
	return rev
}

// MetricsSuffix returns a string suitable for appending to a metrics
// prefix (see metrics.Sink.WithPrefix) so that dashboards can distinguish
// builds without needing a separate tag dimension.
func MetricsSuffix() string {
	return "build_" + String()
}
