// Package logx is a thin structured-logging facade over zerolog.
//
// Components hold a Logger value; the Service owns the sinks (console,
// optional JSON file) and can swap levels/outputs at runtime without
// invalidating previously handed-out Loggers.
package logx
