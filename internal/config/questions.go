package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// questionBankFile is the on-disk shape of an external question bank.
type questionBankFile struct {
	Questions []Question `yaml:"questions"`
}

// LoadQuestions returns the merged question bank: the external file named by
// questions.path first, then the inline questions. IDs must be unique across
// the merged result.
func LoadQuestions(cfg *Config) ([]Question, error) {
	var bank []Question

	if cfg.Questions.Path != "" {
		f, err := os.Open(cfg.Questions.Path)
		if err != nil {
			return nil, fmt.Errorf("config: open question bank %q: %w", cfg.Questions.Path, err)
		}
		defer f.Close()

		fromFile, err := loadQuestionBank(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse question bank %q: %w", cfg.Questions.Path, err)
		}
		bank = append(bank, fromFile...)
	}
	bank = append(bank, cfg.Questions.Inline...)

	var errs []error
	idsSeen := make(map[string]int)
	for i, q := range bank {
		errs = append(errs, validateQuestion(fmt.Sprintf("questions[%d]", i), q, idsSeen)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return bank, nil
}

// loadQuestionBank decodes a question bank document from r.
func loadQuestionBank(r io.Reader) ([]Question, error) {
	var file questionBankFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return file.Questions, nil
}
