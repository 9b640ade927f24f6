// Package logs reads the daemon log file by byte offset.
//
// A negative offset asks for the last N lines; any other offset resumes where
// a previous read stopped. With a wait duration the read polls until new
// lines arrive, which backs `videoxt logs --follow` both through the daemon
// API and directly against a local log file.
package logs
