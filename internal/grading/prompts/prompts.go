package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Language selects the prompt language sent to the vision model.
type Language string

const (
	// LanguageES is the default, matching the Spanish exam sheets.
	LanguageES Language = "es"
	// LanguageEN is the English prompt set.
	LanguageEN Language = "en"
)

var validLanguages = map[Language]bool{
	LanguageES: true,
	LanguageEN: true,
}

var (
	loadOnce      sync.Once
	loadErr       error
	systemPrompts map[Language]string
	userTemplates map[Language]*template.Template
)

// IsValidLanguage checks if a prompt language is supported.
func IsValidLanguage(l string) bool {
	return validLanguages[Language(l)]
}

// UserData holds template data for the user instruction.
type UserData struct {
	QuestionCount int
}

// Load parses the embedded prompt templates once.
func Load() error {
	return LoadFS(templateFS)
}

// LoadFS parses prompt templates from fsys. Only the first call has effect.
func LoadFS(fsys fs.FS) error {
	loadOnce.Do(func() {
		systemPrompts = make(map[Language]string)
		userTemplates = make(map[Language]*template.Template)

		for l := range validLanguages {
			systemFile := "templates/system_" + string(l) + ".txt"
			userFile := "templates/user_" + string(l) + ".txt"

			systemContent, err := fs.ReadFile(fsys, systemFile)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + systemFile + ": " + err.Error())
				return
			}
			systemPrompts[l] = strings.TrimSpace(string(systemContent))

			userContent, err := fs.ReadFile(fsys, userFile)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + userFile + ": " + err.Error())
				return
			}
			tmpl, err := template.New("user").Parse(strings.TrimSpace(string(userContent)))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + userFile + ": " + err.Error())
				return
			}
			userTemplates[l] = tmpl
		}
	})
	return loadErr
}

// System returns the fixed grading instruction for the language.
func System(l Language) (string, error) {
	if systemPrompts == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	p, ok := systemPrompts[l]
	if !ok {
		return "", errors.New("invalid prompt language: " + string(l))
	}
	return p, nil
}

// User builds the user instruction that accompanies the exam image.
// questionCount is a hint; zero leaves it out.
func User(l Language, questionCount int) (string, error) {
	if userTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := userTemplates[l]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt language: " + string(l))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, UserData{QuestionCount: questionCount}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
