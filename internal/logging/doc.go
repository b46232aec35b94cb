// Package logging is the process-wide leveled logger: Debug, Info, Warn and
// Error are printf style, prefixed with their level and written through the
// standard log package. Fatal always prints and exits.
//
// The level comes from LOG_LEVEL (debug, info, warn, error) and DEBUG=true
// forces debug. Commands may override it with SetLevel. When LOG_FILE is set
// the output is also written to a file rotated by size and age.
package logging
