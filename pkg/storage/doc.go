/*
Package storage provides BoltDB-backed persistence for deployd.

BoltStore keeps every record as JSON in its own bucket of a single
<dataDir>/deployd.db file:

	environments  (environment id)
	deploys       (deploy id)
	builds        (build id)
	build_tags    (build id)
	hosts         (host id)
	agents        (host id "/" environment id)
	promotes      (environment id)

Agent records are keyed by host first so a ping can load a host's records
with a single prefix scan. Other secondary lookups (environment by stage,
builds of a name, deploys of an environment) scan the bucket.

Update operations are upserts. Lookups of a missing key return an error
wrapping ErrNotFound:

	env, err := store.GetEnvironment(id)
	if errors.Is(err, storage.ErrNotFound) {
		...
	}

Time window queries (ListBuilds, ListDeploysByEnv) return records in
(after, before], oldest first, capped at limit when limit is positive.
*/
package storage
