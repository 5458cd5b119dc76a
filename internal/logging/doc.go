// Package logging provides leveled Printf-style logging for the
// ingest pipeline.
//
// Messages below the active level are dropped. The level comes from
// LOG_LEVEL (debug, info, warn, error; default info), and DEBUG=true
// forces debug output regardless of LOG_LEVEL. Fatal always prints
// and terminates the process.
package logging
