package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk scheduler configuration.
type fileConfig struct {
	ProtectedFiles      []string `yaml:"protected_files"`
	AuthorizedWorkflows []string `yaml:"authorized_workflows"`
	SubmoduleName       string   `yaml:"submodule_name"`
	SchedulerWorkflow   string   `yaml:"scheduler_workflow"`
}

// LoadFile merges the YAML configuration at path into c. A missing file is
// only an error when required is true, so the default path can be absent on
// installations that configure everything through flags and environment.
func (c *Config) LoadFile(path string, required bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if len(fc.ProtectedFiles) > 0 {
		c.Verification.ProtectedFiles = fc.ProtectedFiles
	}
	if len(fc.AuthorizedWorkflows) > 0 {
		c.Action.AuthorizedWorkflows = fc.AuthorizedWorkflows
	}
	if fc.SubmoduleName != "" {
		c.Verification.SubmoduleName = fc.SubmoduleName
	}
	if fc.SchedulerWorkflow != "" {
		c.Verification.SchedulerWorkflow = fc.SchedulerWorkflow
	}
	return nil
}

// ApplyEnv fills credentials and provider-supplied identifiers from the
// environment. Flags win over the environment, so only empty fields are
// touched.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	setIfEmpty := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	setIfEmpty(&c.Credentials.CircleToken, "CIRCLECI_API_TOKEN")
	setIfEmpty(&c.Credentials.GitHubToken, "GITHUB_TOKEN")
	setIfEmpty(&c.Credentials.BotLogin, "GITHUB_USERNAME")
	setIfEmpty(&c.Project.Repository, "REPOSITORY")
	setIfEmpty(&c.Project.CurrentWorkflowID, "CIRCLE_WORKFLOW_ID")
	if c.Project.ProjectPath == "" {
		if v := getenv("PROJECT_PATH"); v != "" {
			c.Project.ProjectPath = v
		} else if wd, err := os.Getwd(); err == nil {
			c.Project.ProjectPath = wd
		}
	}
}
