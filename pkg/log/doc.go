/*
Package log provides structured logging for deployd using zerolog.

A single global Logger is configured once at startup with Init and shared by
every package. Packages derive child loggers that carry identifying fields:

	logger := log.WithComponent("goal")
	logger.Debug().
		Str("host_id", hostID).
		Str("env_id", envID).
		Str("case", "next-stage").
		Msg("Host finished stage, advancing")

Helpers exist for the fields the engines log most often:

  - WithComponent("promoter")
  - WithHostID("i-0abc")
  - WithEnvID("env-123")
  - WithDeployID("dep-456")

# Output

JSON output is meant for production, console output for terminals:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	{"level":"info","component":"promoter","env_id":"env-1","result":"PromoteBuild","time":"2026-01-02T10:00:00Z","message":"Promote evaluated"}

The default level is info. Debug logs every classification decision made by
the reconciliation engine, which is verbose on large fleets.
*/
package log
