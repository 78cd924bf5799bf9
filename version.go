// Package nciplot drives the NCIPlot non-covalent interaction analysis
// binary: it writes input files, launches runs, and parses their output.
package nciplot

// Version is the release version reported by the CLI and MCP server.
const Version = "v0.3.0"
