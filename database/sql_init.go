/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/datalayer/utils"
)

const commonScripts = "common"

var fileOrderPattern = regexp.MustCompile(`^(\d+)_`)

// ScriptRunner executes the SQL scripts of one context, typically stored
// procedures and seed data:
//
//	<root>/*.sql                       always
//	<root>/common/*.sql                always
//	<root>/environments/<env>/*.sql    only for that environment
//
// Files run by their numeric prefix ("010_customers.sql"), each in its own
// transaction. Scripts containing "{{" are expanded as text/template with the
// process environment plus ENVIRONMENT and TIMESTAMP.
type ScriptRunner struct {
	db          *bun.DB
	root        string
	environment string
	logger      Logger
}

// SQLFileInfo describes a SQL file to be executed.
type SQLFileInfo struct {
	Path        string
	Name        string
	Order       int
	Environment string
	ModTime     time.Time
}

// ExecutionResult contains the outcome of executing a single SQL file.
type ExecutionResult struct {
	File         string
	Success      bool
	Error        error
	Duration     time.Duration
	RowsAffected int64
}

// NewScriptRunner creates a runner for the scripts under root. The
// environment is read from DAL_ENVIRONMENT and defaults to "development".
func NewScriptRunner(db *bun.DB, root string, logger Logger) *ScriptRunner {
	if logger == nil {
		logger = GetLogger()
	}
	return &ScriptRunner{
		db:          db,
		root:        root,
		environment: utils.EnvDefaultString("DAL_ENVIRONMENT", "development"),
		logger:      logger,
	}
}

// SetEnvironment selects the environments/<env> directory.
func (s *ScriptRunner) SetEnvironment(env string) {
	s.environment = env
}

// Run executes every discovered file and stops at the first failure.
func (s *ScriptRunner) Run(ctx context.Context) ([]ExecutionResult, error) {
	files, err := s.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL files: %w", err)
	}
	if len(files) == 0 {
		s.logger.Debug("No SQL files found to execute", "sql_path", s.root)
		return nil, nil
	}

	results := make([]ExecutionResult, 0, len(files))
	for _, file := range files {
		result := s.executeFile(ctx, file)
		results = append(results, result)

		if !result.Success {
			s.logger.Error("SQL file execution failed", "file", result.File, "error", result.Error.Error())
			return results, fmt.Errorf("SQL file execution failed %s: %w", result.File, result.Error)
		}
		s.logger.Info("SQL file executed successfully",
			"file", result.File,
			"duration", result.Duration.String(),
			"rows_affected", result.RowsAffected,
		)
	}
	return results, nil
}

// Files returns the scripts to run: common ones first, then the environment's,
// each group ordered by numeric prefix and then by name.
func (s *ScriptRunner) Files() ([]SQLFileInfo, error) {
	var files []SQLFileInfo

	top, err := s.filesIn(s.root, commonScripts, false)
	if err != nil {
		return nil, err
	}
	files = append(files, top...)

	common, err := s.filesIn(filepath.Join(s.root, commonScripts), commonScripts, true)
	if err != nil {
		return nil, err
	}
	files = append(files, common...)

	env, err := s.filesIn(filepath.Join(s.root, "environments", s.environment), s.environment, true)
	if err != nil {
		return nil, err
	}
	files = append(files, env...)

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Environment != files[j].Environment {
			return files[i].Environment == commonScripts
		}
		if files[i].Order != files[j].Order {
			return files[i].Order < files[j].Order
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// filesIn lists .sql files of dir; a missing dir yields nothing.
func (s *ScriptRunner) filesIn(dir, environment string, recursive bool) ([]SQLFileInfo, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var files []SQLFileInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, SQLFileInfo{
			Path:        path,
			Name:        d.Name(),
			Order:       parseFileOrder(d.Name()),
			Environment: environment,
			ModTime:     info.ModTime(),
		})
		return nil
	})
	return files, err
}

func parseFileOrder(filename string) int {
	matches := fileOrderPattern.FindStringSubmatch(filename)
	if len(matches) > 1 {
		var order int
		_, _ = fmt.Sscanf(matches[1], "%d", &order)
		return order
	}
	return 999
}

func (s *ScriptRunner) executeFile(ctx context.Context, file SQLFileInfo) ExecutionResult {
	start := time.Now()
	result := ExecutionResult{File: file.Path}

	content, err := os.ReadFile(file.Path)
	if err != nil {
		result.Error = fmt.Errorf("failed to read file: %w", err)
		result.Duration = time.Since(start)
		return result
	}

	text := string(content)
	if strings.Contains(text, "{{") {
		if text, err = s.replaceEnvVariables(text); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			return result
		}
	}

	statements := splitSQLStatements(text)
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var total int64
		for _, stmt := range statements {
			res, execErr := tx.ExecContext(ctx, stmt)
			if execErr != nil {
				return fmt.Errorf("failed to execute SQL statement: %s, error: %w", stmt, execErr)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		result.RowsAffected = total
		return nil
	})
	if err != nil {
		result.Error = err
	} else {
		result.Success = true
	}
	result.Duration = time.Since(start)
	return result
}

func (s *ScriptRunner) replaceEnvVariables(content string) (string, error) {
	tmpl, err := template.New("sql").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	envVars := make(map[string]string)
	for _, env := range os.Environ() {
		if k, v, ok := strings.Cut(env, "="); ok {
			envVars[k] = v
		}
	}
	envVars["ENVIRONMENT"] = s.environment
	envVars["TIMESTAMP"] = time.Now().Format("2006-01-02 15:04:05")

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envVars); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// splitSQLStatements splits on lines ending with ";" and drops "--" comment
// lines. A line holding only "GO" also ends a statement.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if strings.EqualFold(line, "GO") {
			flush()
			continue
		}

		current.WriteString(line)
		current.WriteString(" ")

		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return statements
}
