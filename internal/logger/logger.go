// Package logger sets up the logrus loggers of the service
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	internalLogFile = "certifychain.log"
	accessLogFile   = "access.log"
	errorLogFile    = "certifychain-errors.log"
)

// Output configures where a logger writes to
type Output struct {
	Dir    string
	StdErr bool
}

// Conf configures the internal logger
type Conf struct {
	Output
	// Level is a logrus level name, e.g. debug or INFO
	Level string
	// SmartDir, if set, receives a copy of all entries at error level or above
	SmartDir string
}

func openLogFile(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	return f, errors.WithStack(err)
}

func writer(o Output, file string) (io.Writer, error) {
	var writers []io.Writer
	if o.StdErr {
		writers = append(writers, os.Stderr)
	}
	if o.Dir != "" {
		f, err := openLogFile(o.Dir, file)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}
	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

// Init configures the standard logrus logger
func Init(conf Conf) error {
	return initLogger(log.StandardLogger(), conf)
}

func initLogger(l *log.Logger, conf Conf) error {
	w, err := writer(conf.Output, internalLogFile)
	if err != nil {
		return err
	}
	l.SetOutput(w)
	level := log.InfoLevel
	if conf.Level != "" {
		if level, err = log.ParseLevel(conf.Level); err != nil {
			return errors.WithStack(err)
		}
	}
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if conf.SmartDir != "" {
		f, err := openLogFile(conf.SmartDir, errorLogFile)
		if err != nil {
			return err
		}
		l.AddHook(&errorHook{
			out:       f,
			formatter: &log.JSONFormatter{},
		})
	}
	return nil
}

// AccessWriter returns the writer for the http access log
func AccessWriter(o Output) (io.Writer, error) {
	return writer(o, accessLogFile)
}

// errorHook duplicates error entries to a separate output
type errorHook struct {
	out       io.Writer
	formatter log.Formatter
}

func (*errorHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel}
}

func (h *errorHook) Fire(e *log.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}
