/*
   Copyright @ 2022 The Voithos Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package log

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logPath = "/var/log/voithos/voithos.log"

var (
	sugareLogger *zap.SugaredLogger
	level        = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// logPath    log file path
// MaxSize    single file size, MB
// MaxBackups number of rotated files kept
// MaxAge     days to keep rotated files
// the console copy goes to stderr so command output on stdout stays parseable

func init() {
	hook := lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    30, // megabytes
		MaxBackups: 3,
		Compress:   false,
	}

	hook.MaxAge = 7

	syncer := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stderr), zapcore.AddSync(&hook))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "line",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	if os.Getenv("VOITHOS_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		level.SetLevel(zap.DebugLevel)
	}
	core := zapcore.NewCore(
		encoder,
		syncer,
		level,
	)

	log := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	sugareLogger = log.Sugar()
}

// SetDebug switches the logger between debug and info level at runtime.
func SetDebug(debug bool) {
	if debug {
		level.SetLevel(zap.DebugLevel)
		return
	}
	level.SetLevel(zap.InfoLevel)
}

func Sync() error {
	return sugareLogger.Sync()
}

func Debug(args ...interface{}) {
	sugareLogger.Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	sugareLogger.Debugf(template, args...)
}

func Info(args ...interface{}) {
	sugareLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	sugareLogger.Infof(template, args...)
}

func Warn(args ...interface{}) {
	sugareLogger.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	sugareLogger.Warnf(template, args...)
}

func Error(args ...interface{}) {
	sugareLogger.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	sugareLogger.Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	sugareLogger.Fatal(args...)
}

func Fatalf(template string, args ...interface{}) {
	sugareLogger.Fatalf(template, args...)
}
