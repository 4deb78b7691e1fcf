/*
Package health provides HTTP and TCP dependency health checks shared by the
Session Endpoint and the Container Agent.

# Checkers

Checker is a small interface (Check(ctx) Result, Type() CheckType)
implemented by HTTPChecker and TCPChecker. Status tracks consecutive
successes/failures against a Config's Retries threshold and an optional
StartPeriod grace window, the same pattern used to decide when a dependency
is considered healthy after a retry streak rather than after a single
check.

# Usage

The Container Agent periodically probes the Session Endpoint's /healthz
(under BACKEND_API_URL) with an HTTPChecker and a Status, and reports the
result as a Prometheus gauge and on its local /healthz; the probe does not
gate initial sync. The Session Endpoint's own /healthz and /readyz are
served by session.HealthServer, which does not use this package.
*/
package health
