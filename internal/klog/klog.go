// Copyright 2026 The vmkern Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog provides subsystem-tagged structured logging for the
// kernel core, replacing the debug-category printf calls
// (dbg(DBG_VM, ...), dbg(DBG_FORK, ...)) that the Weenix kernel this
// subsystem is modeled on used throughout vm/, proc/, and drivers/tty/.
package klog

import "github.com/sirupsen/logrus"

// Subsystem identifies the kernel component emitting a log line, mirroring
// Weenix's DBG_* debug categories.
type Subsystem string

// Subsystems used across this module.
const (
	VM     Subsystem = "vm"
	Fault  Subsystem = "pgfault"
	Fork   Subsystem = "fork"
	LDisc  Subsystem = "ldisc"
	Syscall Subsystem = "syscall"
)

// Logger is a subsystem-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
}

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: false})
}

// For returns a Logger tagged with the given subsystem.
func For(sub Subsystem) *Logger {
	return &Logger{entry: base.WithField("subsys", string(sub))}
}

// SetLevel adjusts the base logger's verbosity; it is exposed so
// cmd/vmkern-demo can wire a -v flag without reaching into logrus
// directly.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Debugf logs at debug level with the subsystem field attached.
func (l *Logger) Debugf(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

// Warnf logs at warn level with the subsystem field attached.
func (l *Logger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

// WithField returns a derived logger carrying an additional field, for
// call sites that want to attach e.g. a pagenum or pid to every line in
// a scope.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}
