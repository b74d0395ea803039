package config

import (
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/certifychain/certifychain/internal/logger"
)

// loggingConf holds all logging-related configuration under the `logging` key.
//
// YAML example:
//
//	logging:
//	  access:
//	    dir: /var/log/certifychain
//	    stderr: false
//	  internal:
//	    dir: /var/log/certifychain
//	    stderr: false
//	    level: INFO
//	    smart:
//	      enabled: false
//	      dir: /var/log/certifychain/smart
//	  banner:
//	    logo: true
//	    version: true
type loggingConf struct {
	Access   LoggerConf         `yaml:"access"`
	Internal internalLoggerConf `yaml:"internal"`
	Banner   bannerConf         `yaml:"banner"`
}

// bannerConf controls whether startup banners are printed.
type bannerConf struct {
	// Logo prints the logo banner on startup.
	Logo bool `yaml:"logo"`
	// Version prints the current version as an ASCII banner centred to the
	// logo.
	Version bool `yaml:"version"`
}

// internalLoggerConf configures application-internal logging.
// Level accepts standard log levels (e.g. DEBUG, INFO, WARN, ERROR).
type internalLoggerConf struct {
	LoggerConf `yaml:",inline"`
	Level      string          `yaml:"level"`
	Smart      smartLoggerConf `yaml:"smart"`
}

// LoggerConf holds configuration related to logging
type LoggerConf struct {
	Dir    string `yaml:"dir"`
	StdErr bool   `yaml:"stderr"`
}

// Output returns the logger output described by the conf
func (c LoggerConf) Output() logger.Output {
	return logger.Output{
		Dir:    c.Dir,
		StdErr: c.StdErr,
	}
}

// smartLoggerConf enables and configures 'smart' logging.
// If Enabled, error logs are also written to `Dir`. If `Dir` is empty, it
// falls back to the internal logger's `Dir`.
type smartLoggerConf struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LoggerConf returns the configuration of the internal logger
func (log loggingConf) LoggerConf() logger.Conf {
	conf := logger.Conf{
		Output: log.Internal.Output(),
		Level:  log.Internal.Level,
	}
	if log.Internal.Smart.Enabled {
		conf.SmartDir = log.Internal.Smart.Dir
	}
	return conf
}

func checkLoggingDirExists(dir string) error {
	if dir != "" && !fileutils.FileExists(dir) {
		return errors.Errorf("logging directory '%s' does not exist", dir)
	}
	return nil
}

func (log *loggingConf) validate() error {
	if err := checkLoggingDirExists(log.Access.Dir); err != nil {
		return err
	}
	if err := checkLoggingDirExists(log.Internal.Dir); err != nil {
		return err
	}
	if log.Internal.Smart.Enabled {
		if log.Internal.Smart.Dir == "" {
			log.Internal.Smart.Dir = log.Internal.Dir
		}
		if err := checkLoggingDirExists(log.Internal.Smart.Dir); err != nil {
			return err
		}
	}
	return nil
}

var defaultLoggingConf = loggingConf{
	Banner: bannerConf{
		Logo:    true,
		Version: true,
	},
	Internal: internalLoggerConf{
		Level: "INFO",
	},
}
