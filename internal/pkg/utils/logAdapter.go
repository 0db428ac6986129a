package utils

import (
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/rs/zerolog"
	"github.com/vgarvardt/gue/v5/adapter"
)

// GueLogAdapter routes gue pool logs to goapp.Log
type GueLogAdapter struct {
	log    zerolog.Logger
	fields []adapter.Field
}

// NewGueLoggerAdapter creates adapter over goapp.Log
func NewGueLoggerAdapter() *GueLogAdapter {
	return &GueLogAdapter{log: goapp.Log}
}

// Debug implements adapter.Logger
func (l *GueLogAdapter) Debug(msg string, fields ...adapter.Field) {
	l.event(l.log.Debug(), fields).Msg(msg)
}

// Info implements adapter.Logger
func (l *GueLogAdapter) Info(msg string, fields ...adapter.Field) {
	l.event(l.log.Info(), fields).Msg(msg)
}

// Error implements adapter.Logger
func (l *GueLogAdapter) Error(msg string, fields ...adapter.Field) {
	l.event(l.log.Error(), fields).Msg(msg)
}

// With implements adapter.Logger, fields accumulate
func (l *GueLogAdapter) With(fields ...adapter.Field) adapter.Logger {
	all := make([]adapter.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	return &GueLogAdapter{log: l.log, fields: all}
}

func (l *GueLogAdapter) event(le *zerolog.Event, fields []adapter.Field) *zerolog.Event {
	le = le.Str("src", "gue")
	for _, f := range l.fields {
		le = addField(le, f)
	}
	for _, f := range fields {
		le = addField(le, f)
	}
	return le
}

func addField(le *zerolog.Event, f adapter.Field) *zerolog.Event {
	if err, ok := f.Value.(error); ok {
		return le.AnErr(f.Key, err)
	}
	return le.Interface(f.Key, f.Value)
}
