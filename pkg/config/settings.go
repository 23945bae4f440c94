package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/depparse/pkg/logger"

	"github.com/go-playground/validator"
)

const (
	DefaultMaxDepSpan        = 20
	DefaultParallelSentences = 4
	DefaultVersion           = "1.0"
	DefaultSet               = "http://ilk.uvt.nl/folia/sets/frog-depparse-nl"
	DefaultOutputClass       = "current"
	DefaultTimeout           = 30 * time.Second
	DefaultMaxConnections    = 16
	DefaultOptions           = "-a1 +D -G0 +vdb+di"

	ParserSection = "parser"
	TaggerSection = "tagger"
	MWUSection    = "mwu"
)

var ErrInvalidSetting = errors.New("invalid parser setting")

// RemoteSettings select the three bases on a classification server.
type RemoteSettings struct {
	Host      string `key:"host" validate:"required"`
	Port      string `key:"port" validate:"required"`
	PairsBase string `key:"pairs_base" validate:"required"`
	DirsBase  string `key:"dirs_base" validate:"required"`
	RelsBase  string `key:"rels_base" validate:"required"`
}

// LocalSettings name the three instance base files loaded in-process.
type LocalSettings struct {
	PairsFile    string `key:"pairsFile" validate:"required"`
	PairsOptions string `key:"pairsOptions"`
	DirFile      string `key:"dirFile" validate:"required"`
	DirOptions   string `key:"dirOptions"`
	RelsFile     string `key:"relsFile" validate:"required"`
	RelsOptions  string `key:"relsOptions"`
}

// ParserSettings is the validated parser section. Exactly one of Remote and
// Local is set.
type ParserSettings struct {
	MaxDepSpan        int    `key:"maxDepSpan" validate:"min=0,max=49"`
	MaxTokens         int    `key:"max_tokens" validate:"min=0"`
	ParallelSentences int    `key:"parallel_sentences" validate:"min=1"`
	Version           string `key:"version"`
	Set               string `key:"set" validate:"required"`
	OutputClass       string `key:"outputclass" validate:"required"`
	POSSet            string `key:"tagger.set"`
	MWUSet            string `key:"mwu.set"`
	CharFilterFile    string `key:"char_filter_file"`

	Timeout        time.Duration `key:"timeout" validate:"min=0"`
	MaxConnections int64         `key:"max_connections" validate:"min=1"`

	Remote *RemoteSettings `validate:"-"`
	Local  *LocalSettings  `validate:"-"`
}

// IsRemote reports whether the classifiers run on a server.
func (s *ParserSettings) IsRemote() bool {
	return s.Remote != nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if key := f.Tag.Get("key"); key != "" {
			return key
		}
		return f.Name
	})
	return v
}

// ParserSettings reads and validates the parser settings. Every problem is
// logged, the returned error joins all of them.
func (c *Config) ParserSettings() (*ParserSettings, error) {
	var errs []error
	number := func(key string, def int) int {
		v := c.LookUp(key, ParserSection)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidSetting, key, v))
			return def
		}
		return n
	}
	text := func(key, def string) string {
		if v := c.LookUp(key, ParserSection); v != "" {
			return v
		}
		return def
	}

	s := &ParserSettings{
		MaxDepSpan:        number("maxDepSpan", DefaultMaxDepSpan),
		MaxTokens:         number("max_tokens", 0),
		ParallelSentences: number("parallel_sentences", DefaultParallelSentences),
		Version:           text("version", DefaultVersion),
		Set:               text("set", DefaultSet),
		OutputClass:       c.LookUpAny("outputclass", ParserSection, Global),
		POSSet:            c.LookUp("set", TaggerSection),
		MWUSet:            c.LookUp("set", MWUSection),
		CharFilterFile:    c.Path(c.LookUpAny("char_filter_file", ParserSection, TaggerSection, Global)),
		Timeout:           DefaultTimeout,
		MaxConnections:    int64(number("max_connections", DefaultMaxConnections)),
	}
	if s.OutputClass == "" {
		s.OutputClass = DefaultOutputClass
	}
	if v := c.LookUp("timeout", ParserSection); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: timeout=%q: %v", ErrInvalidSetting, v, err))
		} else {
			s.Timeout = d
		}
	}
	errs = append(errs, check(s)...)

	if host := c.LookUp("host", ParserSection); host != "" {
		s.Remote = &RemoteSettings{
			Host:      host,
			Port:      c.LookUp("port", ParserSection),
			PairsBase: c.LookUp("pairs_base", ParserSection),
			DirsBase:  c.LookUp("dirs_base", ParserSection),
			RelsBase:  c.LookUp("rels_base", ParserSection),
		}
		errs = append(errs, check(s.Remote)...)
	} else {
		s.Local = &LocalSettings{
			PairsFile:    c.Path(c.LookUp("pairsFile", ParserSection)),
			PairsOptions: text("pairsOptions", DefaultOptions),
			DirFile:      c.Path(c.LookUp("dirFile", ParserSection)),
			DirOptions:   text("dirOptions", DefaultOptions),
			RelsFile:     c.Path(c.LookUp("relsFile", ParserSection)),
			RelsOptions:  text("relsOptions", DefaultOptions),
		}
		errs = append(errs, check(s.Local)...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return s, nil
}

// parseTimeout accepts Go durations and plain seconds.
func parseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func check(s any) []error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []error{fmt.Errorf("%w: %v", ErrInvalidSetting, err)}
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			logger.Error("[Config] Missing setting", "section", ParserSection, "key", fe.Field())
			errs = append(errs, fmt.Errorf("%w: missing %s in section %s", ErrInvalidSetting, fe.Field(), ParserSection))
			continue
		}
		logger.Error("[Config] Setting out of range", "section", ParserSection, "key", fe.Field(), "value", fe.Value(), "rule", fe.Tag()+"="+fe.Param())
		errs = append(errs, fmt.Errorf("%w: %s=%v violates %s=%s", ErrInvalidSetting, fe.Field(), fe.Value(), fe.Tag(), fe.Param()))
	}
	return errs
}
