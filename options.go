package otfassess

import (
	"strings"

	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/log"
	"github.com/nsip/otf-assess/internal/util"
	"github.com/pkg/errors"
)

type Option func(*OtfAssessService) error

const defaultBodyLimit = "8M"

//
// apply all supplied options to the service
// returns any error encountered while applying the options
//
func (srvc *OtfAssessService) setOptions(options ...Option) error {
	for _, opt := range options {
		if err := opt(srvc); err != nil {
			return err
		}
	}
	return nil
}

//
// a name for this service instance,
// if not provided a hashid name will be generated
//
func Name(name string) Option {
	return func(s *OtfAssessService) error {
		if name != "" {
			s.serviceName = name
			return nil
		}
		s.serviceName = util.GenerateName()
		return nil
	}
}

//
// unique id for the service, if not supplied
// a nuid will be generated
//
func ID(id string) Option {
	return func(s *OtfAssessService) error {
		if id != "" {
			s.serviceID = id
			return nil
		}
		s.serviceID = util.GenerateID()
		return nil
	}
}

//
// host name/address for this service
//
func Host(hostName string) Option {
	return func(s *OtfAssessService) error {
		if hostName != "" {
			s.serviceHost = hostName
			return nil
		}
		s.serviceHost = "localhost"
		return nil
	}
}

//
// port for this service, if 0 an available
// port is assigned
//
func Port(port int) Option {
	return func(s *OtfAssessService) error {
		if port != 0 {
			s.servicePort = port
			return nil
		}
		p, err := util.AvailablePort()
		if err != nil {
			return errors.Wrap(err, "cannot assign service port")
		}
		s.servicePort = p
		return nil
	}
}

//
// directory the question map and package library are
// persisted in, empty keeps all state in memory
//
func StateDir(dir string) Option {
	return func(s *OtfAssessService) error {
		s.stateDir = strings.TrimSpace(dir)
		return nil
	}
}

// one of debug, info, warn, error, off
func LogLevel(level string) Option {
	return func(s *OtfAssessService) error {
		switch strings.ToLower(strings.TrimSpace(level)) {
		case "debug":
			s.logLevel = log.DEBUG
		case "", "info":
			s.logLevel = log.INFO
		case "warn":
			s.logLevel = log.WARN
		case "error":
			s.logLevel = log.ERROR
		case "off":
			s.logLevel = log.OFF
		default:
			return errors.Errorf("unknown log level %q", level)
		}
		return nil
	}
}

//
// largest request body accepted on the package routes,
// in echo's size notation (512K, 8M...), empty keeps the default
//
func BodyLimit(limit string) Option {
	return func(s *OtfAssessService) error {
		limit = strings.TrimSpace(limit)
		if limit == "" {
			s.bodyLimit = defaultBodyLimit
			return nil
		}
		if _, err := bytes.Parse(limit); err != nil {
			return errors.Wrapf(err, "invalid body limit %q", limit)
		}
		s.bodyLimit = limit
		return nil
	}
}
