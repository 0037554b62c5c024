/*
main.go - recurctl entry point

PURPOSE:
  Command-line access to the habit engine: preview a spec, manage habits,
  record completions and read stats straight from the SQLite database the
  server uses.

COMMANDS:
  expand    Preview the occurrences of a spec (no database)
  add       Create a habit from a JSON spec
  list      List habits
  check     Record a completion (by key or local time)
  uncheck   Remove a completion (by key or local time)
  history   List completions
  stats     Streaks and adherence
  day       Pending / done of one local day
  import    Create habits from an .ics file
  export    Write cached instances as .ics
  refresh   Roll every horizon forward

GLOBAL FLAGS:
  --config  YAML config path (default: habits.yaml)
  --db      SQLite database path (overrides config)

SEE ALSO:
  - commands.go: Command definitions
  - cmd/server/main.go: HTTP server over the same database
*/
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
