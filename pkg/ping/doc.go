/*
Package ping answers the periodic ping of a host agent.

A ping carries one report per environment the host runs. Handler.Ping loads
the host's environments and agent records from storage, runs the goal
Analyst over them and picks at most one instruction:

  - the first install candidate the host may run now, or
  - a DELETE for the first environment the host must drop, or
  - NOOP.

Candidates that start a new rollout on an idle host are paced: at most
MaxParallel non-first-deploy hosts of an environment deploy at once. The seat
is checked without a lock, then checked again and taken under the
environment's DEPLOY lock. A host's first deploy is never paced, and a first
deploy that has to wait stops the walk so it is not starved by later
environments.

Agent records are written after the decision. A failed write is logged and
never fails the ping.
*/
package ping
