package blip

import "github.com/rs/zerolog"

// disabledLogger is the default logger for a Connection that does not pass
// WithLogger: it discards everything, so the core stays silent unless a
// caller opts in.
var disabledLogger = zerolog.Nop()
