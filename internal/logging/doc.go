// Package logging configures the process-wide slog logger for AmanRAG.
//
// CLI commands log JSON to stderr by default. With --debug, or when running
// the MCP server (where stdout carries the protocol and stderr must stay
// quiet), logs go to a size-rotated file under ~/.amanrag/logs/.
package logging
