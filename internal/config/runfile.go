package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/grading"
	"github.com/emandor/lemme_grader/internal/ocr"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/question"
)

type EndpointFile struct {
	Provider   string `mapstructure:"provider"`
	Credential string `mapstructure:"credential"`
	Model      string `mapstructure:"model"`
}

type OCRFile struct {
	// Table is keyed by quality level then question type. Keys match
	// case-insensitively since viper lowercases them.
	Table  map[string]map[string]ocr.Profile `mapstructure:"table" validate:"dive,dive"`
	Policy ocr.Policy                        `mapstructure:"policy"`
}

// RunFile is the on-disk shape of a run's parameters. Credentials may be
// written as ${ENV_VAR}.
type RunFile struct {
	Repetitions          int               `mapstructure:"repetitions" validate:"gte=1"`
	WaitSeconds          float64           `mapstructure:"wait_seconds" validate:"gte=0"`
	Subject              string            `mapstructure:"subject"`
	Dual                 bool              `mapstructure:"dual"`
	Threshold            float64           `mapstructure:"threshold" validate:"gte=0"`
	First                EndpointFile      `mapstructure:"first"`
	Second               EndpointFile      `mapstructure:"second"`
	OCRCredential        string            `mapstructure:"ocr_credential"`
	ContinueOnInputError bool              `mapstructure:"continue_on_input_error"`
	Questions            []question.Config `mapstructure:"questions" validate:"min=1,max=7,dive"`
	OCR                  OCRFile           `mapstructure:"ocr"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadRunFile reads a YAML or JSON run file, chosen by extension.
func LoadRunFile(path string) (RunFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("repetitions", 1)
	v.SetDefault("subject", grading.DefaultSubject)
	v.SetDefault("threshold", grading.DefaultThreshold)
	if err := v.ReadInConfig(); err != nil {
		return RunFile{}, failure.Wrap(failure.CodeInvalidInput, err, fmt.Sprintf("cannot read run file %s", path))
	}

	var rf RunFile
	if err := v.Unmarshal(&rf); err != nil {
		return RunFile{}, failure.Wrap(failure.CodeInvalidInput, err, fmt.Sprintf("run file %s is malformed", path))
	}
	rf.First.Credential = expand(rf.First.Credential)
	rf.Second.Credential = expand(rf.Second.Credential)
	rf.OCRCredential = expand(rf.OCRCredential)
	for i := range rf.Questions {
		if rf.Questions[i].Index == 0 {
			rf.Questions[i].Index = i + 1
		}
	}

	if err := validate.Struct(rf); err != nil {
		return RunFile{}, failure.Wrap(failure.CodeInvalidInput, err, "run file is invalid: "+describe(err))
	}
	return rf, nil
}

// Params converts the file into run parameters. Provider ids are resolved
// here; everything else is checked when the run starts.
func (rf RunFile) Params() (grading.Params, error) {
	first, err := rf.First.endpoint()
	if err != nil {
		return grading.Params{}, err
	}
	var second grading.Endpoint
	if rf.Dual || rf.Second.Provider != "" {
		if second, err = rf.Second.endpoint(); err != nil {
			return grading.Params{}, err
		}
	}
	table, err := rf.OCR.table()
	if err != nil {
		return grading.Params{}, err
	}
	return grading.Params{
		Repetitions:          rf.Repetitions,
		Wait:                 time.Duration(rf.WaitSeconds * float64(time.Second)),
		Subject:              rf.Subject,
		Dual:                 rf.Dual,
		Threshold:            rf.Threshold,
		First:                first,
		Second:               second,
		OCRCredential:        rf.OCRCredential,
		ContinueOnInputError: rf.ContinueOnInputError,
		Questions:            append([]question.Config(nil), rf.Questions...),
		OCRTable:             table,
		OCRPolicy:            rf.OCR.Policy,
	}, nil
}

// LoadParams is LoadRunFile followed by Params.
func LoadParams(path string) (grading.Params, error) {
	rf, err := LoadRunFile(path)
	if err != nil {
		return grading.Params{}, err
	}
	return rf.Params()
}

func (e EndpointFile) endpoint() (grading.Endpoint, error) {
	k, err := providers.ParseKind(e.Provider)
	if err != nil {
		return grading.Endpoint{}, err
	}
	return grading.Endpoint{Provider: k, Credential: e.Credential, Model: strings.TrimSpace(e.Model)}, nil
}

func (o OCRFile) table() (ocr.Table, error) {
	if len(o.Table) == 0 {
		return nil, nil
	}
	out := ocr.Table{}
	for level, row := range o.Table {
		q, ok := matchQuality(level)
		if !ok {
			return nil, failure.Newf(failure.CodeInvalidInput, "unknown OCR quality level %q", level)
		}
		if out[q] == nil {
			out[q] = map[question.Type]ocr.Profile{}
		}
		for typ, p := range row {
			t, ok := matchType(typ)
			if !ok {
				return nil, failure.Newf(failure.CodeInvalidInput, "unknown question type %q in OCR table", typ)
			}
			out[q][t] = p
		}
	}
	return out, nil
}

func matchQuality(s string) (question.Quality, bool) {
	for _, q := range question.Qualities {
		if strings.EqualFold(string(q), s) {
			return q, true
		}
	}
	return "", false
}

func matchType(s string) (question.Type, bool) {
	for _, t := range question.Types {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// expand resolves a credential written as $VAR or ${VAR}.
func expand(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "$") {
		return s
	}
	return os.ExpandEnv(s)
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
