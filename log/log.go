// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package log handles logging.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the standard logger interface.
type Logger interface {
	// SetOut sets the destination for log output.
	SetOut(io.Writer)
	// SetDebug turns debug mode on or off.
	SetDebug(bool)
	// Debug logs debug output.
	Debug(...any)
	// Debugf logs formatted debug output.
	Debugf(string, ...any)
	// Info logs normal priority messages.
	Info(...any)
	// Infof logs formatted normal priority messages.
	Infof(string, ...any)
	// Error logs error messages.
	Error(...any)
	// Errorf logs formatted error messages.
	Errorf(string, ...any)
}

type logger struct {
	mu sync.RWMutex
	zl zerolog.Logger
}

var _ Logger = &logger{}

// New returns a new structured logger writing JSON lines to w, or to stderr
// if w is nil.
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &logger{
		zl: zerolog.New(w).With().Timestamp().Str("component", "slouch").Logger().Level(zerolog.InfoLevel),
	}
}

func (l *logger) SetOut(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = l.zl.Output(out)
}

func (l *logger) SetDebug(debug bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	l.zl = l.zl.Level(level)
}

func (l *logger) event(level zerolog.Level) *zerolog.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl.WithLevel(level)
}

func (l *logger) log(level zerolog.Level, line string) {
	if e := l.event(level); e != nil {
		e.Msg(strings.TrimSpace(line))
	}
}

func (l *logger) Debug(args ...any) {
	l.log(zerolog.DebugLevel, fmt.Sprint(args...))
}

func (l *logger) Debugf(format string, args ...any) {
	l.log(zerolog.DebugLevel, fmt.Sprintf(format, args...))
}

func (l *logger) Info(args ...any) {
	l.log(zerolog.InfoLevel, fmt.Sprint(args...))
}

func (l *logger) Infof(format string, args ...any) {
	l.log(zerolog.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *logger) Error(args ...any) {
	l.log(zerolog.ErrorLevel, fmt.Sprint(args...))
}

func (l *logger) Errorf(format string, args ...any) {
	l.log(zerolog.ErrorLevel, fmt.Sprintf(format, args...))
}
