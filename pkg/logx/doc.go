// Package logx is a small structured logging facade over zerolog.
//
// Loggers are cheap values. A Logger derived from a Service follows the
// service's current configuration, so level and sink changes made by a config
// reload apply to every component without re-plumbing.
package logx
