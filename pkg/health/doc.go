/*
Package health watches the dependencies deployd cannot work without.

A Checker checks one dependency and returns a Result. The Monitor runs every
registered checker on an interval and publishes the outcome as a process
component through the metrics package, so /ready and /components follow the
state of the store and the lock backend.

# Checkers

	Type      Check                              Component
	storage   list environments from the store   storage
	redis     PING the redis lock backend        lock

# Hysteresis

A Status only turns unhealthy after Retries consecutive failures and turns
healthy again on the first success:

	failures < Retries   healthy, warning logged
	failures = Retries   unhealthy, error logged once
	one success          healthy, recovery logged

# Usage

	mon := health.NewMonitor(health.Config{Interval: 15 * time.Second})
	mon.Add("storage", health.NewStorageChecker(dataDir, store))
	mon.Add("lock", health.NewRedisChecker(redisURL, locker))
	mon.Start()
	defer mon.Stop()
*/
package health
