// Package logging adapts flow.Logger to go.uber.org/zap, grounded on the
// go-streams zaplogger plugin: a thin struct wrapping a *zap.Logger and
// mapping each of flow.Logger's printf-style methods onto Sugar's
// equivalents.
package logging

import (
	"go.uber.org/zap"

	"github.com/johanmast/kafka-flow/flow"
)

// ZapLogger adapts a *zap.Logger to flow.Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ flow.Logger = (*ZapLogger)(nil)

// New wraps l as a flow.Logger.
func New(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func (z *ZapLogger) Tracef(msg string, args ...any) { z.sugar.Debugf(msg, args...) }
func (z *ZapLogger) Debugf(msg string, args ...any) { z.sugar.Debugf(msg, args...) }
func (z *ZapLogger) Infof(msg string, args ...any)  { z.sugar.Infof(msg, args...) }
func (z *ZapLogger) Warnf(msg string, args ...any)  { z.sugar.Warnf(msg, args...) }
func (z *ZapLogger) Errorf(msg string, args ...any) { z.sugar.Errorf(msg, args...) }
